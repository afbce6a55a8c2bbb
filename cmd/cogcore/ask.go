package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Samrat2803/cognitive-core/internal/stream"
)

func askCMD() *cobra.Command {
	ask := &cobra.Command{
		Use:   "ask [query]",
		Short: "Run one research query and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			rt, err := buildRuntime(ctx, configPath(cmd), false)
			if err != nil {
				return err
			}
			defer rt.cleanup()

			runID, err := rt.engine.Submit(strings.Join(args, " "))
			if err != nil {
				return err
			}
			ch, cancel, err := rt.dispatcher.Subscribe(runID, 0)
			if err != nil {
				return err
			}
			defer cancel()

			for evt := range ch {
				switch evt.Kind {
				case stream.NodeStarted:
					fmt.Printf("... %s\n", evt.Node)
				case stream.PartialText:
					// final text is printed from the terminal event
				case stream.ArtifactReady:
					fmt.Printf("artifact ready: %s\n", evt.Marshal())
				case stream.RunCompleted:
					fmt.Printf("\n%s\n", evt.Marshal())
					return nil
				case stream.RunFailed:
					return fmt.Errorf("run failed: %s", evt.Marshal())
				case stream.RunCancelled:
					return fmt.Errorf("run cancelled")
				}
			}
			return fmt.Errorf("run %s: stream ended before a result was delivered", runID)
		},
	}
	return ask
}
