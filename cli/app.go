package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rekcod/rekcod/api"
)

var deployFlags = struct {
	app        string
	node       string
	project    string
	valuesFile string
	build      bool
}{}

var appCmd = &cobra.Command{
	Use:   "app",
	Short: "Manage application bundles and deployments",
}

var appLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List application bundles",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := connect()
		if err != nil {
			return err
		}
		apps, err := call[struct{}, []api.ApplicationResponse](s, "GET", "/api/app/list", nil)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tVERSION\tTEMPLATES\tDESCRIPTION")
		for _, a := range *apps {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				a.Name, a.Version, strings.Join(a.Tmpls, ","), a.Description)
		}
		return w.Flush()
	},
}

var appDeployCmd = &cobra.Command{
	Use:   "deploy <name>",
	Short: "Deploy (or redeploy) an application bundle onto a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := connect()
		if err != nil {
			return err
		}

		values := ""
		if deployFlags.valuesFile != "" {
			buf, err := os.ReadFile(deployFlags.valuesFile)
			if err != nil {
				return err
			}
			values = string(buf)
		}

		req := api.DeployAppRequest{
			Name:     args[0],
			AppName:  deployFlags.app,
			NodeName: deployFlags.node,
			Project:  deployFlags.project,
			Values:   values,
			Build:    deployFlags.build,
		}
		// The server streams the deploy log; relay it as it arrives.
		return stream(s, "POST", "/api/app/deploy", &req, os.Stdout)
	},
}

var appDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Remove a deployment record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := connect()
		if err != nil {
			return err
		}
		req := api.DeleteAppRequest{Name: args[0]}
		if _, err := call[api.DeleteAppRequest, api.Empty](s, "POST", "/api/app/delete", &req); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", args[0])
		return nil
	},
}

func init() {
	f := appDeployCmd.Flags()
	f.StringVar(&deployFlags.app, "app", "", "application bundle name")
	f.StringVarP(&deployFlags.node, "node", "n", "", "target node name")
	f.StringVar(&deployFlags.project, "project", "", "compose working directory (default: the bundle's project/ dir)")
	f.StringVar(&deployFlags.valuesFile, "values", "", "YAML values file for the templates")
	f.BoolVar(&deployFlags.build, "build", false, "pass --build to compose up")
	appDeployCmd.MarkFlagRequired("app")  //nolint:errcheck
	appDeployCmd.MarkFlagRequired("node") //nolint:errcheck

	appCmd.AddCommand(appLsCmd, appDeployCmd, appDeleteCmd)
}
