// Command psclient is the interactive companion client described in
// SPEC_FULL.md §6. It contributes nothing algorithmic beyond multiplexing
// standard input and the socket: invocation is psclient <portnum> <name>
// [<topic> ...].
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

const usage = "Usage: psclient portnum name [topic ...]"

func main() {
	os.Exit(run())
}

func run() int {
	args := os.Args[1:]
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		return 1
	}

	port, err := strconv.Atoi(args[0])
	if err != nil || port < 1 || port > 65535 {
		fmt.Fprintln(os.Stderr, usage)
		return 1
	}

	name := args[1]
	topics := args[2:]

	if !validString(name) {
		fmt.Fprintf(os.Stderr, "psclient: invalid name %q\n", name)
		return 2
	}
	for _, t := range topics {
		if !validString(t) {
			fmt.Fprintf(os.Stderr, "psclient: invalid topic %q\n", t)
			return 2
		}
	}

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		fmt.Fprintf(os.Stderr, "psclient: unable to connect: %v\n", err)
		return 3
	}
	defer conn.Close()

	w := bufio.NewWriter(conn)
	if err := sendLine(w, "name "+name); err != nil {
		fmt.Fprintf(os.Stderr, "psclient: server disconnected: %v\n", err)
		return 4
	}
	for _, t := range topics {
		if err := sendLine(w, "sub "+t); err != nil {
			fmt.Fprintf(os.Stderr, "psclient: server disconnected: %v\n", err)
			return 4
		}
	}

	serverDone := make(chan struct{})

	// Forward stdin lines to the server until EOF or a write failure; stdin
	// closing does not itself end the session, since the protocol has no
	// quit command and the client keeps receiving publications until the
	// server hangs up.
	go func() {
		stdin := bufio.NewScanner(os.Stdin)
		for stdin.Scan() {
			select {
			case <-serverDone:
				return
			default:
			}
			if sendLine(w, stdin.Text()) != nil {
				return
			}
		}
	}()

	// Print server lines to stdout. When this ends, the session is over.
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		fmt.Println(scanner.Text())
	}
	close(serverDone)

	return 4
}

func sendLine(w *bufio.Writer, line string) error {
	if _, err := w.WriteString(line + "\n"); err != nil {
		return err
	}
	return w.Flush()
}

func validString(s string) bool {
	return s != "" && !strings.ContainsAny(s, " :\n")
}
