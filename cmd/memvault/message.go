package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sanity-labs/memvault/internal/idgen"
	"github.com/sanity-labs/memvault/internal/types"
)

var messageKind string

var messageCmd = &cobra.Command{
	Use:   "message <content>",
	Short: "Append a message to the temporal log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := types.MessageKind(messageKind)
		if !validMessageKind(kind) {
			return fmt.Errorf("unknown message kind %q", messageKind)
		}

		id, err := current.ids.Generate(types.PrefixMessage, idgen.Ascending)
		if err != nil {
			return fmt.Errorf("generate id: %w", err)
		}

		content := args[0]
		rec := types.Message{
			ID:            id,
			Kind:          kind,
			Content:       content,
			TokenEstimate: len(content)/4 + 1,
			CreatedAt:     time.Now().UTC(),
		}
		if err := current.log.AppendMessage(rootCtx, rec); err != nil {
			return fmt.Errorf("append message: %w", err)
		}

		if jsonOutput {
			b, _ := json.Marshal(rec)
			fmt.Println(string(b))
		} else {
			fmt.Println(rec.ID)
		}
		return nil
	},
}

func validMessageKind(k types.MessageKind) bool {
	switch k {
	case types.MessageUser, types.MessageAssistant, types.MessageToolCall, types.MessageToolResult, types.MessageSystem, types.MessageUnknown:
		return true
	default:
		return false
	}
}

func init() {
	messageCmd.Flags().StringVar(&messageKind, "kind", string(types.MessageUser), "Message kind: user, assistant, tool_call, tool_result, system")
}
