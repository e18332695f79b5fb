package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ai-cherry/memory-mediator/client"
)

var (
	apiFlag       string
	principalFlag string
	roleFlag      string
	namespaceFlag string
	teamsFlag     string
	tokenFlag     string
	rootCmd       = &cobra.Command{
		Use:          "memoryctl",
		Short:        "CLI client for the memory mediator REST API",
		SilenceUsage: true,
	}
)

func main() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&apiFlag, "api", "a", "http://localhost:8080", "Memory mediator base URL")
	pf.StringVarP(&principalFlag, "principal", "p", os.Getenv("USER"), "Principal id")
	pf.StringVarP(&roleFlag, "role", "r", "Contributor", "Principal role (Executive, Manager, Contributor, ReadOnly)")
	pf.StringVarP(&namespaceFlag, "namespace", "n", "", "Principal namespace (required)")
	pf.StringVar(&teamsFlag, "teams", "", "Comma-separated namespaces the principal may read as team")
	pf.StringVar(&tokenFlag, "token", os.Getenv("MEMORY_MEDIATOR_FRONTEND_TOKEN"), "Bearer token expected by the mediator")

	rootCmd.AddCommand(
		newStoreCmd(),
		newGetCmd(),
		newUpdateCmd(),
		newDeleteCmd(),
		newSearchCmd(),
		newStatsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newClient builds a client from the persistent flags.
func newClient() (*client.Client, error) {
	role, err := client.ParseRole(roleFlag)
	if err != nil {
		return nil, err
	}
	p := client.Principal{ID: principalFlag, Role: role, Namespace: namespaceFlag}
	if teamsFlag != "" {
		p.Teams = strings.Split(teamsFlag, ",")
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("principal: %w (set --principal and --namespace)", err)
	}
	var opts []client.Option
	if tokenFlag != "" {
		opts = append(opts, client.WithToken(tokenFlag))
	}
	return client.New(apiFlag, p, opts...), nil
}
