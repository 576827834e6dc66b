package stationstream

import (
	"fmt"

	"github.com/edgeflare/stationstream/pkg/kafka"
	"github.com/spf13/cobra"
)

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Manage the station topics",
}

var topicsEnsureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Create the inbound and changelog topics if they do not exist",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		topics := []kafka.Topic{a.inboundTopic(), a.changelogTopic()}
		if err := a.topics.EnsureAll(cmd.Context(), topics...); err != nil {
			return err
		}
		for _, t := range topics {
			state := "ok"
			if !a.topics.Provisioned(t.Name) {
				state = "not provisioned"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", t.Name, state)
		}
		return nil
	},
}

func init() {
	topicsCmd.AddCommand(topicsEnsureCmd)
}
