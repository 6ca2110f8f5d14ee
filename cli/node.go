package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rekcod/rekcod/api"
)

var nodeListAll bool

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Inspect fleet nodes",
}

var nodeLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List registered nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := connect()
		if err != nil {
			return err
		}
		items, err := call[api.NodeListRequest, []api.NodeItemResponse](
			s, "POST", "/api/node/list", &api.NodeListRequest{All: nodeListAll})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSTATUS\tADDRESS\tOS\tARCH\tVERSION")
		for _, n := range *items {
			status := "offline"
			if n.Status {
				status = "online"
			}
			fmt.Fprintf(w, "%s\t%s\t%s:%d\t%s\t%s\t%s\n",
				n.Name, status, n.IP, n.Port, n.OS, n.Arch, n.Version)
		}
		return w.Flush()
	},
}

var nodeInfoCmd = &cobra.Command{
	Use:   "info <name>",
	Short: "Show one node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := connect()
		if err != nil {
			return err
		}
		n, err := call[api.NodeInfoRequest, api.NodeItemResponse](
			s, "POST", "/api/node/info", &api.NodeInfoRequest{Name: args[0]})
		if err != nil {
			return err
		}
		fmt.Printf("name:       %s\n", n.Name)
		fmt.Printf("address:    %s:%d\n", n.IP, n.Port)
		fmt.Printf("status:     %v\n", n.Status)
		fmt.Printf("host name:  %s\n", n.HostName)
		fmt.Printf("os:         %s %s (%s)\n", n.OS, n.OSVersion, n.OSKernel)
		fmt.Printf("arch:       %s\n", n.Arch)
		fmt.Printf("version:    %s\n", n.Version)
		return nil
	},
}

func init() {
	nodeLsCmd.Flags().BoolVar(&nodeListAll, "all", false, "include offline nodes")
	nodeCmd.AddCommand(nodeLsCmd, nodeInfoCmd)
}
