package main

import (
	"bufio"
	"context"
	"strings"

	"github.com/spf13/cobra"
)

// promptConfirmer asks on the command's stdin.
type promptConfirmer struct {
	cmd *cobra.Command
}

func (p promptConfirmer) Confirm(ctx context.Context, prompt string) (bool, error) {
	p.cmd.Printf("%s [y/N] ", prompt)

	answer := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		line, err := bufio.NewReader(p.cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			errCh <- err
			return
		}
		answer <- line
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case err := <-errCh:
		return false, err
	case line := <-answer:
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}
