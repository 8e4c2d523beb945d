package cmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moduspwnens/boa-chat/boachat"
	"github.com/moduspwnens/boa-chat/boachat/rest"
)

func chatEvent(id, client, name, text string, ts int64) boachat.ChatEvent {
	return boachat.ChatEvent{Event: rest.Event{
		MessageID:       id,
		ClientMessageID: client,
		IdentityID:      "identity-" + name,
		AuthorName:      name,
		Message:         text,
		Timestamp:       ts,
	}}
}

func TestPrinterPrintsEachEventOnce(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf, nil)
	now := time.Unix(1000, 0)
	p.now = func() time.Time { return now }

	marker := boachat.ChatEvent{Event: rest.Event{MessageID: "s", Type: rest.EventSessionStarted, Timestamp: 900}}
	first := []boachat.ChatEvent{marker, chatEvent("m1", "", "alice", "hi", 940)}
	p.print(boachat.RoomUpdate{Events: first})

	pending := chatEvent("local", "c1", "me", "hello", 1000)
	pending.Unsent = true
	p.print(boachat.RoomUpdate{Events: append(first, pending)})

	confirmed := chatEvent("m2", "c1", "me", "hello", 1000)
	p.print(boachat.RoomUpdate{Events: append(first, confirmed)})
	p.print(boachat.RoomUpdate{Events: append(first, confirmed)})

	assert.Equal(t, "[1 minute ago] alice: hi\n[now] me: hello\n", buf.String())
}

func TestPrinterSendFailureAndClose(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf, func(id string) (string, bool) { return "bob", id == "identity-" })
	p.now = func() time.Time { return time.Unix(100, 0) }

	failed := chatEvent("local", "c1", "", "lost", 100)
	failed.Unsent = true
	failed.SendFailure = true
	anon := chatEvent("m1", "", "", "from bob", 100)
	closed := boachat.ChatEvent{Event: rest.Event{MessageID: "x", Type: rest.EventRoomClosed, Timestamp: 100}}

	p.print(boachat.RoomUpdate{Events: []boachat.ChatEvent{failed, anon, closed}, RoomClosed: true})
	p.print(boachat.RoomUpdate{Events: []boachat.ChatEvent{failed, anon, closed}, RoomClosed: true})

	assert.Equal(t, "[now] ! not sent: lost\n[now] bob: from bob\n*** room closed\n", buf.String())
}

func TestLoadMessages(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "msgs.txt", []byte("hello\n\n  how are you?  \n"), 0o644))

	lines, err := loadMessages(fs, "msgs.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", "how are you?"}, lines)

	require.NoError(t, afero.WriteFile(fs, "empty.txt", []byte("\n\n"), 0o644))
	_, err = loadMessages(fs, "empty.txt")
	assert.Error(t, err)
}

func TestPause(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := pause(time.Second, 10*time.Second)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 10*time.Second)
	}
	assert.Equal(t, time.Second, pause(time.Second, time.Second))
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "****", maskKey("short"))
	assert.Equal(t, "abcd...wxyz", maskKey("abcdefghijklmnopqrstuvwxyz"))
}
