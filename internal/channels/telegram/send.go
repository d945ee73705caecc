package telegram

import (
	"context"
	"fmt"
	"regexp"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/nanoclaw/internal/bus"
	"github.com/nextlevelbuilder/nanoclaw/internal/channels/typing"
)

const telegramMaxMessageLen = 4096

var messageNotModifiedRe = regexp.MustCompile(`(?i)message is not modified`)

// Send delivers an outbound message to a Telegram chat, restoring forum
// topic routing from the localKey recorded when the inbound message arrived.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("telegram bot not running")
	}

	localKey := msg.ChatID
	if lk := msg.Metadata["local_key"]; lk != "" {
		localKey = lk
	}

	chatID, err := parseRawChatID(localKey)
	if err != nil {
		return fmt.Errorf("invalid telegram chat ID %q: %w", localKey, err)
	}

	threadID := 0
	if tid, ok := c.threadIDs.Load(localKey); ok {
		threadID = tid.(int)
	}

	if msg.Metadata["placeholder_update"] == "true" {
		if pID, ok := c.placeholders.Load(localKey); ok {
			_ = c.editMessage(ctx, chatID, pID.(int), msg.Content)
		}
		return nil
	}

	if stop, ok := c.stopThinking.Load(localKey); ok {
		if cf, ok := stop.(*thinkingCancel); ok {
			cf.Cancel()
		}
		c.stopThinking.Delete(localKey)
	}
	if ctrl, ok := c.typingCtrls.LoadAndDelete(localKey); ok {
		ctrl.(*typing.Controller).Stop()
	}

	// NO_REPLY cleanup: content empty means the agent suppressed a reply.
	if msg.Content == "" {
		if pID, ok := c.placeholders.Load(localKey); ok {
			c.placeholders.Delete(localKey)
			_ = c.deleteMessage(ctx, chatID, pID.(int))
		}
		return nil
	}

	// Try to edit the "Thinking..." placeholder in place; fall through to a
	// fresh chunked send if it's gone, too long, or Telegram rejects the edit.
	if pID, ok := c.placeholders.Load(localKey); ok {
		c.placeholders.Delete(localKey)
		if len(msg.Content) <= telegramMaxMessageLen {
			if err := c.editMessage(ctx, chatID, pID.(int), msg.Content); err == nil {
				return nil
			}
		}
		_ = c.deleteMessage(ctx, chatID, pID.(int))
	}

	for _, chunk := range chunkText(msg.Content, telegramMaxMessageLen) {
		if err := c.sendText(ctx, chatID, chunk, threadID); err != nil {
			return err
		}
	}
	return nil
}

func (c *Channel) sendText(ctx context.Context, chatID int64, text string, threadID int) error {
	tgMsg := tu.Message(tu.ID(chatID), text)
	if sendThreadID := resolveThreadIDForSend(threadID); sendThreadID > 0 {
		tgMsg.MessageThreadID = sendThreadID
	}
	_, err := c.bot.SendMessage(ctx, tgMsg)
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

func (c *Channel) editMessage(ctx context.Context, chatID int64, messageID int, text string) error {
	_, err := c.bot.EditMessageText(ctx, tu.EditMessageText(tu.ID(chatID), messageID, text))
	if err != nil {
		if messageNotModifiedRe.MatchString(err.Error()) {
			return nil
		}
		return err
	}
	return nil
}

func (c *Channel) deleteMessage(ctx context.Context, chatID int64, messageID int) error {
	return c.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{
		ChatID:    tu.ID(chatID),
		MessageID: messageID,
	})
}

// chunkText splits text into pieces no longer than maxLen, preferring to
// break on the last newline past the midpoint so chunks don't split mid-line.
func chunkText(text string, maxLen int) []string {
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		cutAt := maxLen
		if idx := lastIndexByte(text[:maxLen], '\n'); idx > maxLen/2 {
			cutAt = idx + 1
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

func lastIndexByte(s string, b byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == b {
			return i
		}
	}
	return -1
}
