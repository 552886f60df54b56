package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/albachteng/justjobs/internal/api"
	"github.com/albachteng/justjobs/internal/jobs"
	"github.com/albachteng/justjobs/internal/manager"
)

func newEnqueueCommand(a *app) *cobra.Command {
	var (
		queueName string
		kwargs    []string
	)

	cmd := &cobra.Command{
		Use:   "enqueue FUNC [ARGS...]",
		Short: "Enqueue a call of a registered job",
		Long: `Enqueue a call of a registered job.

Each argument is read as JSON when it parses as JSON and as a plain string
otherwise, so 42 is a number, '"42"' a string and ada the string "ada".`,
		Example: `  justjobs enqueue greet ada --kwarg greeting=hello
  justjobs enqueue digest '"some text"' 1000 --queue cpu`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := a.registry.Resolve(args[0])
			if err != nil {
				return err
			}

			positional := make([]any, 0, len(args)-1)
			for _, raw := range args[1:] {
				positional = append(positional, parseArg(raw))
			}
			kw := make(map[string]any, len(kwargs))
			for _, pair := range kwargs {
				name, raw, ok := strings.Cut(pair, "=")
				if !ok || name == "" {
					return fmt.Errorf("%w: keyword argument %q is not name=value", jobs.ErrArgumentMismatch, pair)
				}
				kw[name] = parseArg(raw)
			}

			env, err := jobs.NewEnvelope(job, positional, kw)
			if err != nil {
				return err
			}

			b, store, err := a.openBroker(cmd.Context(), queueName)
			if err != nil {
				return err
			}
			defer store.Close()

			length, err := b.Enqueue(cmd.Context(), queueName, env)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s %s on %s (queue length %d)\n", env.Func, env.ID, queueName, length)
			return nil
		},
	}

	cmd.Flags().StringVar(&queueName, "queue", manager.DefaultQueue, "Queue to enqueue on")
	cmd.Flags().StringArrayVar(&kwargs, "kwarg", nil, "Keyword argument as name=value (repeatable)")
	return cmd
}

func parseArg(raw string) any {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return raw
	}
	return api.Normalize(v)
}
