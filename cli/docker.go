package cli

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/rekcod/rekcod/api"
)

var targetNode string

var dockerCmd = &cobra.Command{
	Use:   "docker [flags] -- <docker args>",
	Short: "Run the local docker CLI against a node's engine",
	Long: `Runs the local docker CLI with DOCKER_HOST pointed at the node's
proxied engine, so any docker command works against any fleet node:

  rekcod docker -n worker-1 -- ps -a
  rekcod docker -n worker-1 -- logs -f web`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return execEngineCLI("docker", nil, args)
	},
}

var composeCmd = &cobra.Command{
	Use:     "compose [flags] -- <compose args>",
	Aliases: []string{"docker-compose"},
	Short:   "Run docker compose against a node's engine",
	Args:    cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return execEngineCLI("docker", []string{"compose"}, args)
	},
}

func init() {
	dockerCmd.Flags().StringVarP(&targetNode, "node", "n", "", "target node name")
	composeCmd.Flags().StringVarP(&targetNode, "node", "n", "", "target node name")
}

// execEngineCLI resolves the node and re-executes the local CLI with the
// engine environment pointed at it. The child's exit code propagates.
func execEngineCLI(bin string, prefix, args []string) error {
	if targetNode == "" {
		return fmt.Errorf("--node is required")
	}
	s, err := connect()
	if err != nil {
		return err
	}
	n, err := call[api.NodeInfoRequest, api.NodeItemResponse](
		s, "POST", "/api/node/info", &api.NodeInfoRequest{Name: targetNode})
	if err != nil {
		return err
	}
	if !n.Status {
		return fmt.Errorf("node %q is offline", n.Name)
	}

	cmd := exec.Command(bin, append(prefix, args...)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("DOCKER_HOST=tcp://%s:%d%s", n.IP, n.Port, api.DockerProxyPath),
		"DOCKER_CUSTOM_HEADERS="+api.TokenHeader+"="+s.token,
		"DOCKER_BUILDKIT=0",
	)

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		return err
	}
	return nil
}
