// machina_inspect prints a report of a saved machine envelope: the model
// configuration, the fitted-state summary, the report entries and, for
// composite machines, the learning-network structure.
//
// Usage:
//
//	machina_inspect [flags] <envelope file>
package main

import (
	"flag"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomachina/machina/ml/compose"
	"github.com/gomachina/machina/ml/machine"
	"github.com/gomachina/machina/ml/persist"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	// Model packages register their types for decoding.
	_ "github.com/gomachina/machina/ml/models/linear"
	_ "github.com/gomachina/machina/ml/models/scaler"
	_ "github.com/gomachina/machina/ml/models/stumps"
	_ "github.com/gomachina/machina/ml/models/tree"
)

var (
	flagSummary = flag.Bool("summary", true, "Display a summary of the envelope: model type, "+
		"fitted-state type, file size.")
	flagReport  = flag.Bool("report", false, "Lists the report entries stored with the machine.")
	flagNetwork = flag.Bool("network", false, "For composite machines, lists the learning-network "+
		"machines in topological order.")
	flagRestore = flag.Bool("restore", false, "Run restore hooks before inspecting; needed to "+
		"summarize opaque fitted state stored in side files.")
)

func main() {
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		klog.Errorf("Missing envelope file to read from. See 'machina_inspect -help'")
		os.Exit(1)
	}
	if len(args) > 1 {
		klog.Errorf("Too many arguments. See 'machina_inspect -help'.")
		os.Exit(1)
	}
	report(args[0])
}

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == 1 {
				s = headerRowStyle
				return
			}
			switch {
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

func report(envelopePath string) {
	var m *machine.Machine
	if *flagRestore {
		m = must.M1(persist.Load(envelopePath))
	} else {
		// Load without hooks: decode the raw envelope so machines with
		// opaque state can be inspected without their side files present.
		f := must.M1(os.Open(envelopePath))
		defer func() { _ = f.Close() }()
		m = must.M1(persist.Decode(f))
	}
	fitresult := must.M1(m.Fitresult())

	if *flagSummary {
		fmt.Println(titleStyle.Render("Summary"))
		table := newPlainTable(false)
		table.Row("envelope", envelopePath)
		if info, err := os.Stat(envelopePath); err == nil {
			table.Row("size", humanize.Bytes(uint64(info.Size())))
		}
		if format, compression, err := sniffFile(envelopePath); err == nil {
			table.Row("format", string(format))
			table.Row("compression", string(compression))
		}
		table.Row("model", m.Model().TypeName())
		table.Row("config", fmt.Sprintf("%+v", m.Model()))
		table.Row("fitresult", typeOf(fitresult))
		if nw, ok := fitresult.(*compose.Network); ok {
			table.Row("# network nodes", humanize.Comma(int64(len(nw.AllNodes()))))
			table.Row("# network machines", humanize.Comma(int64(len(nw.Machines()))))
		}
		table.Row("# report entries", humanize.Comma(int64(len(m.Report()))))
		fmt.Println(table.Render())
	}

	if *flagReport {
		fmt.Println(titleStyle.Render("Report"))
		table := newPlainTable(true)
		table.Row("Key", "Type", "Value")
		keys := make([]string, 0, len(m.Report()))
		for k := range m.Report() {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v := m.Report()[k]
			table.Row(k, typeOf(v), fmt.Sprintf("%v", v))
		}
		fmt.Println(table.Render())
	}

	if *flagNetwork {
		fmt.Println(titleStyle.Render("Learning Network"))
		nw, ok := fitresult.(*compose.Network)
		if !ok {
			fmt.Printf("not a composite machine (fitted state is %s)\n", typeOf(fitresult))
			return
		}
		table := newPlainTable(true)
		table.Row("#", "Model", "Trained", "Report Keys")
		for ii, sub := range nw.Machines() {
			keys := make([]string, 0, len(sub.Report()))
			for k := range sub.Report() {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			table.Row(
				humanize.Comma(int64(ii)),
				sub.Model().TypeName(),
				fmt.Sprintf("%v", sub.IsTrained()),
				strings.Join(keys, ", "),
			)
		}
		fmt.Println(table.Render())
	}
}

func sniffFile(path string) (persist.Format, persist.Compression, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer func() { _ = f.Close() }()
	return persist.Sniff(f)
}

func typeOf(v any) string {
	if v == nil {
		return "<nil>"
	}
	return reflect.TypeOf(v).String()
}
