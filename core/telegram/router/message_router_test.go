package router

import (
	"testing"

	tele "gopkg.in/telebot.v4"

	tg "github.com/m3rciful/walletbot/core/telegram"
	"github.com/m3rciful/walletbot/core/telegram/commands"
)

func textContext(userID int64, text string) tele.Context {
	return tele.NewContext(nil, tele.Update{
		ID: 1,
		Message: &tele.Message{
			Text:   text,
			Sender: &tele.User{ID: userID},
			Chat:   &tele.Chat{ID: userID},
		},
	})
}

func TestTextRoutesPrefersPendingConversation(t *testing.T) {
	var helpCalls, conversationCalls int
	reg := tg.NewRegistry()
	reg.RegisterCommand("/help", commands.Command{
		Handler:     func(tele.Context) error { helpCalls++; return nil },
		Description: "help",
		Aliases:     []string{"help"},
	})
	pending := map[int64]bool{1: true}
	routes := TextRoutes(reg, TextOptions{
		InProgress:   func(c tele.Context) bool { return pending[c.Sender().ID] },
		Conversation: func(tele.Context) error { conversationCalls++; return nil },
	})
	text := routes[0].Handler

	cases := []struct {
		name         string
		user         int64
		text         string
		help, conv   int
	}{
		{"pending step takes alias text", 1, "help", 0, 1},
		{"pending step takes sentence", 1, "help desk moves to the new address tomorrow", 0, 1},
		{"idle alias runs command", 2, "help", 1, 0},
		{"idle sentence is not a command", 2, "help desk moves tomorrow", 0, 1},
	}
	for _, tc := range cases {
		helpCalls, conversationCalls = 0, 0
		if err := text(textContext(tc.user, tc.text)); err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if helpCalls != tc.help || conversationCalls != tc.conv {
			t.Fatalf("%s: help=%d conversation=%d, want %d/%d", tc.name, helpCalls, conversationCalls, tc.help, tc.conv)
		}
	}
}
