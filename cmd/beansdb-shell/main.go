// beansdb-shell is a small interactive REPL for manually inspecting and
// poking a beansdb-style replica set through the sharding router and
// quorum engine: get/set/bucket commands for operator debugging. It is
// not part of the client library's API surface; it exists to give operators
// the same kind of manual-inspection tool the slotcache format's sloty
// shell provides for its binary store.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"

	"github.com/beansdb/beansdb/pkg/config"
	"github.com/beansdb/beansdb/pkg/quorum"
	"github.com/beansdb/beansdb/pkg/replica"
	"github.com/beansdb/beansdb/pkg/router"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: beansdb-shell <config-file.jsonc>")
	}

	cfg, err := config.Load(args[0], config.Overrides{})
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	rtr, err := router.New(router.ServerMap(cfg.Servers), router.Options{BucketsCount: cfg.BucketsCount}, dialReplica)
	if err != nil {
		return fmt.Errorf("building router: %w", err)
	}
	defer rtr.Close()

	engine := quorum.New(quorum.Options{W: cfg.W, R: cfg.R})

	shell := &shell{router: rtr, engine: engine}

	return shell.run()
}

func dialReplica(endpoint string) (replica.Client, error) {
	c, err := replica.NewTCPClient(endpoint, 2*time.Second)
	if err != nil {
		fmt.Fprintln(os.Stderr, "warning:", err)
	}

	return c, err
}

type shell struct {
	router *router.Router
	engine *quorum.Engine
	liner  *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".beansdb_shell_history")
}

func (s *shell) run() error {
	s.liner = liner.NewLiner()
	defer s.liner.Close()

	s.liner.SetCtrlCAborts(true)
	s.liner.SetCompleter(s.completer)

	if f, err := os.Open(historyFile()); err == nil {
		s.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Printf("beansdb-shell (buckets=%d)\n", s.router.BucketsCount())
	fmt.Println("Commands: get <key>, set <key> <value>, bucket <key>, help, exit")
	fmt.Println()

	for {
		line, err := s.liner.Prompt("beansdb> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nBye!")

				break
			}

			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		s.liner.AppendHistory(line)

		s.dispatch(line)
	}

	s.saveHistory()

	return nil
}

func (s *shell) dispatch(line string) {
	parts := strings.Fields(line)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "exit", "quit", "q":
		s.saveHistory()
		os.Exit(0)
	case "help", "?":
		fmt.Println("get <key>               fetch a value through the quorum engine")
		fmt.Println("set <key> <value>        store a value through the quorum engine")
		fmt.Println("bucket <key>             show which bucket a key maps to and its replica endpoints")
		fmt.Println("exit / quit / q          leave the shell")
	case "get":
		s.cmdGet(args)
	case "set":
		s.cmdSet(args)
	case "bucket":
		s.cmdBucket(args)
	default:
		fmt.Printf("unknown command: %s (type 'help' for commands)\n", cmd)
	}
}

func (s *shell) cmdGet(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: get <key>")

		return
	}

	key := []byte(args[0])
	reps := s.router.Replicas(key)

	value, ok, err := s.engine.Get(reps, key)
	if err != nil {
		fmt.Println("error:", err)

		return
	}

	if !ok {
		fmt.Println("(not found)")

		return
	}

	fmt.Printf("%s\n", value)
}

func (s *shell) cmdSet(args []string) {
	if len(args) < 2 {
		fmt.Println("usage: set <key> <value>")

		return
	}

	key := []byte(args[0])
	value := []byte(strings.Join(args[1:], " "))

	reps := s.router.Replicas(key)

	ok, err := s.engine.Set(reps, key, value)
	if err != nil {
		fmt.Println("error:", err)

		return
	}

	if !ok {
		fmt.Println("write quorum not reached")

		return
	}

	fmt.Println("OK")
}

func (s *shell) cmdBucket(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: bucket <key>")

		return
	}

	key := []byte(args[0])
	bucketID := s.router.BucketFor(key)

	reps := s.router.Replicas(key)
	endpoints := make([]string, len(reps))

	for i, r := range reps {
		endpoints[i] = r.Endpoint()
	}

	fmt.Printf("bucket %d: %s\n", bucketID, strings.Join(endpoints, ", "))
}

func (s *shell) completer(line string) []string {
	commands := []string{"get", "set", "bucket", "help", "exit", "quit"}

	var out []string

	for _, c := range commands {
		if strings.HasPrefix(c, line) {
			out = append(out, c)
		}
	}

	return out
}

func (s *shell) saveHistory() {
	path := historyFile()
	if path == "" {
		return
	}

	if f, err := os.Create(path); err == nil {
		s.liner.WriteHistory(f)
		f.Close()
	}
}

