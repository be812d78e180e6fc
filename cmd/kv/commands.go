package kv

import (
	"fmt"

	"github.com/spf13/cobra"
)

var lockID string

var (
	putCmd = &cobra.Command{
		Use:   "put [row] [col] [value]",
		Short: "Writes a value to a row/column cell",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			row, col, value := args[0], args[1], args[2]
			if err := rpcClient.Put(row, col, []byte(value), lockID); err != nil {
				return err
			}
			fmt.Println("put successfully")
			return nil
		},
	}

	cputCmd = &cobra.Command{
		Use:   "cput [row] [col] [currValue] [newValue]",
		Short: "Writes newValue only if the cell currently holds currValue",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			row, col, currValue, newValue := args[0], args[1], args[2], args[3]
			if err := rpcClient.CPut(row, col, []byte(currValue), []byte(newValue), lockID); err != nil {
				return err
			}
			fmt.Println("cput successfully")
			return nil
		},
	}

	getCmd = &cobra.Command{
		Use:   "get [row] [col]",
		Short: "Reads a row/column cell",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			row, col := args[0], args[1]
			value, ok, err := rpcClient.Get(row, col, lockID)
			if err != nil {
				return err
			}
			fmt.Printf("row=%s, col=%s, found=%v, value=%s\n", row, col, ok, value)
			return nil
		},
	}

	deleteCmd = &cobra.Command{
		Use:   "delete [row] [col]",
		Short: "Deletes a row/column cell",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			row, col := args[0], args[1]
			if err := rpcClient.Delete(row, col, lockID); err != nil {
				return err
			}
			fmt.Println("delete successfully")
			return nil
		},
	}

	lockCmd = &cobra.Command{
		Use:   "lock [row]",
		Short: "Acquires row's advisory lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			row := args[0]
			id, ok, err := rpcClient.SetNX(row)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("acquired=false")
				return nil
			}
			fmt.Printf("acquired=true, lockID=%s\n", id)
			return nil
		},
	}

	unlockCmd = &cobra.Command{
		Use:   "unlock [row] [lockID]",
		Short: "Releases row's advisory lock, previously acquired with lockID",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			row, id := args[0], args[1]
			ok, err := rpcClient.Del(row, id)
			if err != nil {
				return err
			}
			fmt.Printf("released=%v\n", ok)
			return nil
		},
	}

	rowsCmd = &cobra.Command{
		Use:   "rows",
		Short: "Lists every known row",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("ip")
			var rows []string
			var err error
			if addr != "" {
				rows, err = rpcClient.GetAllRowsByIP(addr)
			} else {
				rows, err = rpcClient.GetAllRows()
			}
			if err != nil {
				return err
			}
			for _, r := range rows {
				fmt.Println(r)
			}
			return nil
		},
	}

	colsCmd = &cobra.Command{
		Use:   "cols [row]",
		Short: "Lists every column under row",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			row := args[0]
			addr, _ := cmd.Flags().GetString("ip")
			var cols []string
			var err error
			if addr != "" {
				cols, err = rpcClient.GetColsInRowByIP(row, lockID, addr)
			} else {
				cols, err = rpcClient.GetColsInRow(row, lockID)
			}
			if err != nil {
				return err
			}
			for _, c := range cols {
				fmt.Println(c)
			}
			return nil
		},
	}
)

func init() {
	for _, cmd := range []*cobra.Command{putCmd, cputCmd, getCmd, deleteCmd, colsCmd} {
		cmd.Flags().StringVar(&lockID, "lock", "", "Lock token previously returned by 'kv lock', asserted against the row")
	}
	rowsCmd.Flags().String("ip", "", "Bypass consensus and cluster sharding, reading directly from the replica at this address")
	colsCmd.Flags().String("ip", "", "Bypass consensus, reading directly from the replica at this address")
}
