// Package cli implements the interactive inspection REPL started when the
// start_cli option is enabled: a line-oriented command dispatcher over the
// running peer's namespace mirror and DHT node, in the same
// subcommand-switch style as the teacher's cache-cli tool, just read from
// stdin in a loop instead of os.Args once per process.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/ctresc/peerfs/internal/namespace"
)

// Inspector is the subset of peer state the REPL can query.
type Inspector struct {
	Mirror     *namespace.Mirror
	PeerCount  func() int
	LocalAddr  func() string
}

// Run reads commands from in and writes output to out until EOF or "quit".
func Run(ctx context.Context, insp Inspector, in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(out, "peerfs> type 'help' for commands")

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd, args := fields[0], fields[1:]

		switch cmd {
		case "help":
			printHelp(out)
		case "quit", "exit":
			return
		case "ls":
			cmdLs(insp, out, args)
		case "stat":
			cmdStat(insp, out, args)
		case "cat":
			cmdCat(insp, out, args)
		case "peers":
			cmdPeers(insp, out)
		case "whoami":
			cmdWhoami(insp, out)
		default:
			fmt.Fprintf(out, "unknown command: %s (try 'help')\n", cmd)
		}
	}
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, `commands:
  ls <dir>     list a directory's children
  stat <path>  show attributes for a path
  cat <path>   print a file's content
  peers        show the known peer count
  whoami       show this node's listen address
  quit         exit`)
}

func cmdLs(insp Inspector, out io.Writer, args []string) {
	path := "/"
	if len(args) > 0 {
		path = args[0]
	}
	n, err := insp.Mirror.Find(path)
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	dir, ok := n.(*namespace.Directory)
	if !ok {
		fmt.Fprintln(out, "error: not a directory")
		return
	}

	names := make([]string, 0, len(dir.Children()))
	for _, child := range dir.Children() {
		names = append(names, child.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintln(out, name)
	}
}

func cmdStat(insp Inspector, out io.Writer, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(out, "usage: stat <path>")
		return
	}
	a, err := insp.Mirror.Getattr(args[0])
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintf(tw, "dir:\t%v\n", a.IsDir)
	fmt.Fprintf(tw, "symlink:\t%v\n", a.IsSymlnk)
	fmt.Fprintf(tw, "size:\t%d\n", a.Size)
	fmt.Fprintf(tw, "mtime:\t%d\n", a.MTime)
	tw.Flush()
}

func cmdCat(insp Inspector, out io.Writer, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(out, "usage: cat <path>")
		return
	}
	a, err := insp.Mirror.Getattr(args[0])
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	if a.IsDir {
		fmt.Fprintln(out, "error: is a directory")
		return
	}
	buf := make([]byte, a.Size)
	n, err := insp.Mirror.Read(args[0], buf, 0)
	if err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
		return
	}
	out.Write(buf[:n])
	fmt.Fprintln(out)
}

func cmdPeers(insp Inspector, out io.Writer) {
	if insp.PeerCount == nil {
		fmt.Fprintln(out, "unknown")
		return
	}
	fmt.Fprintln(out, insp.PeerCount())
}

func cmdWhoami(insp Inspector, out io.Writer) {
	if insp.LocalAddr == nil {
		fmt.Fprintln(out, "unknown")
		return
	}
	fmt.Fprintln(out, insp.LocalAddr())
}
