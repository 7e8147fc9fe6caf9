package channels

import (
	"context"
	"testing"

	"github.com/nextlevelbuilder/openclaw/internal/bus"
	"github.com/nextlevelbuilder/openclaw/internal/core"
)

type fakeChannel struct {
	BaseChannel
	sent []bus.OutboundMessage
}

func (f *fakeChannel) Start(_ context.Context) error { return nil }
func (f *fakeChannel) Stop(_ context.Context) error  { return nil }

func (f *fakeChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	f.sent = append(f.sent, msg)
	return nil
}

type fakeTypingChannel struct {
	fakeChannel
	typingOn bool
}

func (f *fakeTypingChannel) StartTyping(_ context.Context, _ string) error {
	f.typingOn = true
	return nil
}

func (f *fakeTypingChannel) StopTyping(_ context.Context, _ string) error {
	f.typingOn = false
	return nil
}

func TestManagerSenderSendRoutesByDestination(t *testing.T) {
	mgr := NewManager(nil)
	fc := &fakeChannel{}
	mgr.RegisterChannel("telegram", fc)

	sender := NewManagerSender(mgr)
	err := sender.Send("telegram:12345", core.ReplyPayload{Text: "hi", MediaURLs: []string{"/tmp/a.png"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fc.sent) != 1 {
		t.Fatalf("expected 1 sent message, got %d", len(fc.sent))
	}
	if fc.sent[0].ChatID != "12345" || fc.sent[0].Content != "hi" {
		t.Fatalf("unexpected message: %+v", fc.sent[0])
	}
	if len(fc.sent[0].Media) != 1 || fc.sent[0].Media[0].URL != "/tmp/a.png" {
		t.Fatalf("expected media attachment to carry through, got %+v", fc.sent[0].Media)
	}
}

func TestManagerSenderSendUnknownChannel(t *testing.T) {
	mgr := NewManager(nil)
	sender := NewManagerSender(mgr)
	if err := sender.Send("discord:1", core.ReplyPayload{Text: "hi"}); err == nil {
		t.Fatal("expected error for unregistered channel")
	}
}

func TestManagerSenderSendMalformedDestination(t *testing.T) {
	mgr := NewManager(nil)
	sender := NewManagerSender(mgr)
	if err := sender.Send("no-colon", core.ReplyPayload{Text: "hi"}); err == nil {
		t.Fatal("expected error for malformed destination")
	}
}

func TestManagerSenderSetTypingOnlyAffectsTypingChannels(t *testing.T) {
	mgr := NewManager(nil)
	plain := &fakeChannel{}
	typing := &fakeTypingChannel{}
	mgr.RegisterChannel("discord", plain)
	mgr.RegisterChannel("telegram", typing)

	sender := NewManagerSender(mgr)
	sender.SetTyping("discord:1", true) // must not panic for a non-TypingChannel
	sender.SetTyping("telegram:1", true)
	if !typing.typingOn {
		t.Fatal("expected typing indicator to start")
	}
	sender.SetTyping("telegram:1", false)
	if typing.typingOn {
		t.Fatal("expected typing indicator to stop")
	}
}

func TestSplitDestination(t *testing.T) {
	cases := []struct {
		in       string
		wantCh   string
		wantChat string
		wantOK   bool
	}{
		{"telegram:123", "telegram", "123", true},
		{"telegram:123:topic-9", "telegram", "123:topic-9", true},
		{"no-colon", "", "", false},
		{":empty-channel", "", "", false},
	}
	for _, c := range cases {
		gotCh, gotChat, gotOK := splitDestination(c.in)
		if gotOK != c.wantOK || gotCh != c.wantCh || gotChat != c.wantChat {
			t.Errorf("splitDestination(%q) = (%q,%q,%v), want (%q,%q,%v)",
				c.in, gotCh, gotChat, gotOK, c.wantCh, c.wantChat, c.wantOK)
		}
	}
}
