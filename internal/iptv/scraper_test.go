package iptv

import (
	"context"
	"testing"
)

const listingPage = `<html><head><title>EPG</title></head><body>
<script type="text/javascript">
Authentication.CTCSetConfig('Channel','ChannelID="6197",ChannelName="广东卫视高清",UserChannelID="101",ChannelURL="igmp://239.0.0.1:5140",TimeShift="1",ChannelSDP="rtsp://sdp.example/6197",ChannelLogURL="http://logo.example/6197.png",Positon="1"')
</script>
<script type="text/javascript">
Authentication.CTCSetConfig('Channel','ChannelID="6198",ChannelName="广东卫视",UserChannelID="102",ChannelURL="igmp://239.0.0.2:5140",Positon="2"')
</script>
<script type="text/javascript">var unrelated = 1;</script>
</body></html>`

func TestChannelsParsesScriptFragments(t *testing.T) {
	f := newFakeEPG(t, "secret")
	f.listing = listingPage
	s := f.session()
	if err := s.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	channels, err := s.Channels(context.Background())
	if err != nil {
		t.Fatalf("Channels: %v", err)
	}
	if len(channels) != 2 {
		t.Fatalf("len(channels) = %d, want 2", len(channels))
	}

	first := channels[0]
	for key, want := range map[string]string{
		"ChannelID":     "6197",
		"ChannelName":   "广东卫视高清",
		"UserChannelID": "101",
		"ChannelURL":    "igmp://239.0.0.1:5140",
		"TimeShift":     "1",
		"ChannelSDP":    "rtsp://sdp.example/6197",
		"ChannelLogURL": "http://logo.example/6197.png",
	} {
		if got := first[key]; got != want {
			t.Errorf("first[%q] = %q, want %q", key, got, want)
		}
	}
	// The last field of each fragment keeps its closing quote: the splitter
	// mirrors the upstream-compatible `",` / `="` algorithm exactly.
	if got := first["Positon"]; got != `1"` {
		t.Errorf("first[Positon] = %q, want %q", got, `1"`)
	}
	if got := channels[1].ID(); got != "6198" {
		t.Errorf("second id = %q, want 6198", got)
	}
}

func TestChannelsEmptyPageIsNotAnError(t *testing.T) {
	f := newFakeEPG(t, "secret")
	f.listing = `<html><body><script>var nothing = true;</script></body></html>`
	s := f.session()
	if err := s.Authenticate(context.Background()); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	channels, err := s.Channels(context.Background())
	if err != nil {
		t.Fatalf("Channels: %v", err)
	}
	if len(channels) != 0 {
		t.Errorf("len(channels) = %d, want 0", len(channels))
	}
}

func TestChannelsRequiresAuthenticatedSession(t *testing.T) {
	f := newFakeEPG(t, "secret")
	s := f.session()
	if _, err := s.Channels(context.Background()); err == nil {
		t.Fatal("Channels succeeded without Authenticate")
	}
}

func TestParseChannelParams(t *testing.T) {
	ch := parseChannelParams(`ChannelID="1",ChannelName="name with ", inside",ChannelURL="udp://x"`)
	// Malformed pieces without `="` are dropped rather than guessed at.
	if ch["ChannelID"] != "1" {
		t.Errorf("ChannelID = %q", ch["ChannelID"])
	}
	if _, dup := ch[` inside`]; dup {
		t.Errorf("splitter invented a key from quoted content: %v", ch)
	}
}
