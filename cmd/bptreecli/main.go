// Command bptreecli is a thin exerciser of the tree engine: it is not part
// of the core design (spec.md §1), only a collaborator that drives it from
// a textual command stream.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"bptreekv/kv"
)

// CLI wraps an open tree and turns one line of input into one tree
// operation, mirroring the teacher's own CLI struct shape.
type CLI struct {
	tree *kv.Tree[string, uint64]
}

func NewCLI(dir, prefix string) (*CLI, error) {
	tree, err := kv.Open[string, uint64](dir, prefix, kv.Capacities{
		InternalSize:   64,
		LeafSize:       32,
		BufferPoolSize: 64,
	}, kv.FixedStringCodec(64), kv.Uint64Codec{}, kv.StringComparator)
	if err != nil {
		return nil, err
	}
	return &CLI{tree: tree}, nil
}

// Handle executes one command line and returns the text to print, if any.
func (c *CLI) Handle(line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}

	switch fields[0] {
	case "insert":
		if len(fields) != 3 {
			return "", fmt.Errorf("insert: expected <key> <value>")
		}
		value, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			return "", fmt.Errorf("insert: invalid value %q: %w", fields[2], err)
		}
		if err := c.tree.Insert(fields[1], value); err != nil {
			return "", err
		}
		return "", nil

	case "find":
		if len(fields) != 2 {
			return "", fmt.Errorf("find: expected <key>")
		}
		var values []string
		err := c.tree.Range(fields[1], fields[1], func(_ string, v uint64) bool {
			values = append(values, strconv.FormatUint(v, 10))
			return true
		})
		if err != nil {
			return "", err
		}
		if len(values) == 0 {
			return "null", nil
		}
		return strings.Join(values, " "), nil

	case "delete":
		if len(fields) != 3 {
			return "", fmt.Errorf("delete: expected <key> <value>")
		}
		if _, err := c.tree.Remove(fields[1]); err != nil {
			return "", err
		}
		return "", nil

	default:
		return "", fmt.Errorf("unknown command %q", fields[0])
	}
}

func (c *CLI) Close() error {
	return c.tree.Close()
}

func main() {
	dir := flag.String("dir", ".", "directory holding the tree's record files")
	prefix := flag.String("prefix", "", "filename prefix for the tree's record files")
	flag.Parse()

	cli, err := NewCLI(*dir, *prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bptreecli: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := cli.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "bptreecli: close: %v\n", err)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return
	}
	count, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "bptreecli: invalid command count: %v\n", err)
		os.Exit(1)
	}

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	for i := 0; i < count && scanner.Scan(); i++ {
		result, err := cli.Handle(scanner.Text())
		if err != nil {
			fmt.Fprintf(os.Stderr, "bptreecli: %v\n", err)
			continue
		}
		if result != "" {
			fmt.Fprintln(out, result)
		}
	}
}
