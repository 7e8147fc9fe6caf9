package channels

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/openclaw/internal/bus"
	"github.com/nextlevelbuilder/openclaw/internal/core"
)

// ManagerSender adapts a Manager onto the dispatch engine's
// core.ChannelSender contract, so internal/dispatch.Dispatcher can
// deliver ReplyPayloads through whichever channel adapter a
// destination string names, the same way Manager.dispatchOutbound
// already routes bus.OutboundMessage by channel name.
type ManagerSender struct {
	Manager *Manager
}

// NewManagerSender wraps mgr for use as a dispatch engine ChannelSender.
func NewManagerSender(mgr *Manager) *ManagerSender {
	return &ManagerSender{Manager: mgr}
}

// Send delivers payload to the channel/chat a "channel:chatID"
// destination string names (see internal/orchestrator's destination
// construction).
func (s *ManagerSender) Send(destination string, payload core.ReplyPayload) error {
	channelName, chatID, ok := splitDestination(destination)
	if !ok {
		return fmt.Errorf("channels: malformed destination %q", destination)
	}
	channel, exists := s.Manager.GetChannel(channelName)
	if !exists {
		return fmt.Errorf("channels: unknown channel %q", channelName)
	}

	media := make([]bus.MediaAttachment, 0, len(payload.MediaURLs))
	for _, url := range payload.MediaURLs {
		media = append(media, bus.MediaAttachment{URL: url})
	}

	return channel.Send(context.Background(), bus.OutboundMessage{
		Channel: channelName,
		ChatID:  chatID,
		Content: payload.Text,
		Media:   media,
	})
}

// SetTyping starts or stops the composing indicator for destination, a
// no-op for channels that don't implement TypingChannel.
func (s *ManagerSender) SetTyping(destination string, on bool) {
	channelName, chatID, ok := splitDestination(destination)
	if !ok {
		return
	}
	channel, exists := s.Manager.GetChannel(channelName)
	if !exists {
		return
	}
	tc, ok := channel.(TypingChannel)
	if !ok {
		return
	}
	if on {
		_ = tc.StartTyping(context.Background(), chatID)
	} else {
		_ = tc.StopTyping(context.Background(), chatID)
	}
}

// splitDestination separates a "channel:chatID" destination string on
// its first colon, since chat IDs themselves may contain colons
// (e.g. Telegram's "chatID:topicID" topic delimiter form).
func splitDestination(destination string) (channelName, chatID string, ok bool) {
	idx := strings.Index(destination, ":")
	if idx <= 0 {
		return "", "", false
	}
	return destination[:idx], destination[idx+1:], true
}
