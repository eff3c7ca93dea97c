// Command echo-demo is a tiny TCP echo client/server pair built against
// the real net package, per SPEC_FULL.md §4.14. It is meant to run as the
// managed process under Shadow (its syscalls intercepted, not its source
// transformed) — it does not import anything from this module, since a
// managed process under Shadow is, by construction, an unmodified binary.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "echo-demo",
		Short: "A minimal TCP echo client/server, meant to run under Shadow.",
	}
	root.AddCommand(serveCmd(), connectCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept connections and echo back every line received.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":7000", "address to listen on")
	return cmd
}

func connectCmd() *cobra.Command {
	var addr, message string
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Send a line to a server and print the echoed reply.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return connect(addr, message)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:7000", "server address to dial")
	cmd.Flags().StringVar(&message, "message", "hello", "line to send")
	return cmd
}

func serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("echo-demo: listen: %w", err)
	}
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("echo-demo: accept: %w", err)
		}
		go handleConn(conn)
	}
}

func handleConn(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		if _, err := fmt.Fprintln(conn, scanner.Text()); err != nil {
			return
		}
	}
}

func connect(addr, message string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("echo-demo: dial: %w", err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintln(conn, message); err != nil {
		return fmt.Errorf("echo-demo: write: %w", err)
	}

	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return fmt.Errorf("echo-demo: read: %w", err)
	}
	fmt.Print(reply)
	return nil
}
