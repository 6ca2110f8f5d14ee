package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rekcod/rekcod/api"
)

var envFile string

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Manage the fleet environment document",
}

var envGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the environment document",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := connect()
		if err != nil {
			return err
		}
		resp, err := call[struct{}, api.EnvResponse](s, "GET", "/api/env/global", nil)
		if err != nil {
			return err
		}
		fmt.Print(resp.Values)
		return nil
	},
}

var envSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Replace the environment document from a file",
	RunE: func(cmd *cobra.Command, args []string) error {
		buf, err := os.ReadFile(envFile)
		if err != nil {
			return err
		}
		s, err := connect()
		if err != nil {
			return err
		}
		req := api.EnvRequest{Values: string(buf)}
		if _, err := call[api.EnvRequest, api.Empty](s, "POST", "/api/env/global", &req); err != nil {
			return err
		}
		return nil
	},
}

func init() {
	envSetCmd.Flags().StringVarP(&envFile, "file", "f", "", "KEY=VALUE file")
	envSetCmd.MarkFlagRequired("file") //nolint:errcheck
	envCmd.AddCommand(envGetCmd, envSetCmd)
}
