package commands

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"extendfs/internal/extend"
)

var parseOptionsCmd = &cobra.Command{
	Use:   "parse-options <options>",
	Short: "Check an extended option string without mounting",
	Long: `Run the extended mount option parser on a ";"-separated option string
and print the resulting configuration and the nodes a mount would publish in
.extend.

Examples:
  extendfs parse-options "delayupdatetime=500;wbnice"
  extendfs parse-options delayupdatetime`,
	Args: cobra.ExactArgs(1),
	RunE: runParseOptions,
}

// nodeList collects the nodes Register would publish.
type nodeList map[string]*extend.Node

func (l nodeList) CreateNode(n *extend.Node) error {
	l[n.Name()] = n
	return nil
}

func (l nodeList) RemoveNode(name string) { delete(l, name) }

func runParseOptions(cmd *cobra.Command, args []string) error {
	cfg := extend.NewConfig(nil)
	if err := cfg.ParseOptions(args[0], false); err != nil {
		return err
	}

	nodes := nodeList{}
	if err := cfg.Register(nodes); err != nil {
		return err
	}
	defer cfg.Unregister()

	snap := cfg.Snapshot()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "options:           %q\n", snap.String())
	fmt.Fprintf(out, "delayupdatetime:   %v\n", snap.Options.Has(extend.OptDelayUpdateTime))
	fmt.Fprintf(out, "wbnice:            %v\n", snap.Options.Has(extend.OptWBNice))

	names := make([]string, 0, len(nodes))
	for name := range nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, ".%s/%s = %s", extend.Namespace, name, nodes[name].Show())
	}
	return nil
}
