package bot

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"highlight_bot/internal/config"
	"highlight_bot/internal/model"
	"highlight_bot/internal/registry"
	"highlight_bot/internal/storage"
)

// mockAPI implements discordAPI in memory.
type mockAPI struct {
	mu        sync.Mutex
	sent      map[string][]string // channel ID -> message contents
	reactions []string            // "channelID/messageID/emoji"

	members         map[string]*discordgo.Member // "guildID/userID"
	memberErr       error
	channels        map[string]*discordgo.Channel
	guilds          map[string]*discordgo.Guild
	channelMessages []*discordgo.Message
}

func newMockAPI() *mockAPI {
	return &mockAPI{
		sent:     make(map[string][]string),
		members:  make(map[string]*discordgo.Member),
		channels: make(map[string]*discordgo.Channel),
		guilds:   make(map[string]*discordgo.Guild),
	}
}

func notFound(code int) error {
	return &discordgo.RESTError{Message: &discordgo.APIErrorMessage{Code: code}}
}

func (m *mockAPI) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent[channelID] = append(m.sent[channelID], content)
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func (m *mockAPI) MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reactions = append(m.reactions, channelID+"/"+messageID+"/"+emojiID)
	return nil
}

func (m *mockAPI) GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.memberErr != nil {
		return nil, m.memberErr
	}
	member, ok := m.members[guildID+"/"+userID]
	if !ok {
		return nil, notFound(discordgo.ErrCodeUnknownMember)
	}
	return member, nil
}

func (m *mockAPI) Guild(guildID string, options ...discordgo.RequestOption) (*discordgo.Guild, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.guilds[guildID]
	if !ok {
		return nil, notFound(discordgo.ErrCodeUnknownGuild)
	}
	return g, nil
}

func (m *mockAPI) Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[channelID]
	if !ok {
		return nil, notFound(discordgo.ErrCodeUnknownChannel)
	}
	return ch, nil
}

func (m *mockAPI) ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channelMessages, nil
}

func (m *mockAPI) UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	return &discordgo.Channel{ID: "dm-" + recipientID}, nil
}

func (m *mockAPI) replies(channelID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent[channelID]...)
}

func (m *mockAPI) lastReply(t *testing.T, channelID string) string {
	t.Helper()
	replies := m.replies(channelID)
	if len(replies) == 0 {
		t.Fatalf("no reply sent to channel %s", channelID)
	}
	return replies[len(replies)-1]
}

func (m *mockAPI) reacted(emoji string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reactions {
		if strings.HasSuffix(r, "/"+emoji) {
			return true
		}
	}
	return false
}

func newTestBot(t *testing.T) (*Bot, *mockAPI) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("create test storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	api := newMockAPI()
	return &Bot{
		api:      api,
		store:    store,
		registry: registry.New(store, log),
		cfg:      &config.Config{CommandPrefix: "!hl"},
		log:      log,
	}, api
}

func command(guildID string) *discordgo.Message {
	return &discordgo.Message{
		ID:        "m1",
		GuildID:   guildID,
		ChannelID: "c1",
		Author:    &discordgo.User{ID: "100"},
	}
}

func TestIsCommand(t *testing.T) {
	b, _ := newTestBot(t)

	tests := []struct {
		content string
		want    bool
	}{
		{content: "!hl", want: true},
		{content: "!hl add coffee", want: true},
		{content: "!hlarious coffee", want: false},
		{content: "just coffee", want: false},
		{content: "", want: false},
	}

	for _, tt := range tests {
		if got := b.isCommand(tt.content); got != tt.want {
			t.Errorf("isCommand(%q) = %v, want %v", tt.content, got, tt.want)
		}
	}
}

func TestHandleAdd(t *testing.T) {
	b, api := newTestBot(t)
	ctx := context.Background()

	b.handleCommand(ctx, command("g1"), "add", "coffee")

	if !api.reacted(emojiOK) {
		t.Error("successful add not acknowledged with a reaction")
	}
	got, err := b.store.UserHighlights(ctx, "g1", "100")
	if err != nil {
		t.Fatalf("user highlights: %v", err)
	}
	if diff := cmp.Diff([]string{"coffee"}, got); diff != "" {
		t.Errorf("stored highlights mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleAddValidation(t *testing.T) {
	b, api := newTestBot(t)
	ctx := context.Background()

	b.handleCommand(ctx, command("g1"), "add", "x")

	if !api.reacted(emojiFail) {
		t.Error("rejected add not acknowledged with a failure reaction")
	}
	if got := api.lastReply(t, "c1"); !strings.Contains(got, "between 2 and 200") {
		t.Errorf("reply does not explain the length limit: %q", got)
	}
}

func TestHandleAddLimit(t *testing.T) {
	b, api := newTestBot(t)
	ctx := context.Background()

	for i := 0; i < storage.MaxPerUser; i++ {
		b.handleCommand(ctx, command("g1"), "add", "keyword"+strings.Repeat("x", i))
	}
	b.handleCommand(ctx, command("g1"), "add", "overflow")

	if got := api.lastReply(t, "c1"); !strings.Contains(got, "10 highlight") {
		t.Errorf("reply does not explain the per-server limit: %q", got)
	}
	count, err := b.store.HighlightCount(ctx, "g1", "100")
	if err != nil {
		t.Fatalf("highlight count: %v", err)
	}
	if count != storage.MaxPerUser {
		t.Errorf("stored %d highlights, want %d", count, storage.MaxPerUser)
	}
}

func TestHandleAddUsage(t *testing.T) {
	b, api := newTestBot(t)

	b.handleCommand(context.Background(), command("g1"), "add", "")

	if got := api.lastReply(t, "c1"); !strings.Contains(got, "Usage") {
		t.Errorf("empty add did not print usage: %q", got)
	}
}

func TestHandleRemove(t *testing.T) {
	b, api := newTestBot(t)
	ctx := context.Background()

	b.handleCommand(ctx, command("g1"), "add", "Coffee")
	b.handleCommand(ctx, command("g1"), "remove", "COFFEE")

	if !api.reacted(emojiOK) {
		t.Error("remove not acknowledged")
	}
	got, err := b.store.UserHighlights(ctx, "g1", "100")
	if err != nil {
		t.Fatalf("user highlights: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("highlights after remove = %v, want empty", got)
	}
}

func TestHandleList(t *testing.T) {
	b, api := newTestBot(t)
	ctx := context.Background()

	b.handleCommand(ctx, command("g1"), "add", "coffee")
	b.handleCommand(ctx, command("g1"), "list", "")

	if got := api.lastReply(t, "c1"); !strings.Contains(got, "coffee") {
		t.Errorf("list does not show the registered keyword: %q", got)
	}
}

func TestHandleClear(t *testing.T) {
	b, _ := newTestBot(t)
	ctx := context.Background()

	b.handleCommand(ctx, command("g1"), "add", "coffee")
	b.handleCommand(ctx, command("g1"), "add", "tea")
	b.handleCommand(ctx, command("g1"), "clear", "")

	count, err := b.store.HighlightCount(ctx, "g1", "100")
	if err != nil {
		t.Fatalf("highlight count: %v", err)
	}
	if count != 0 {
		t.Errorf("highlights after clear = %d, want 0", count)
	}
}

func TestHandleBlock(t *testing.T) {
	tests := []struct {
		name     string
		args     string
		channels map[string]*discordgo.Channel
		want     []model.Block
	}{
		{
			name: "user mention",
			args: "<@200>",
			want: []model.Block{{UserID: "100", EntityID: "200", Kind: model.EntityUser}},
		},
		{
			name:     "channel mention",
			args:     "<#300>",
			channels: map[string]*discordgo.Channel{"300": {ID: "300", Type: discordgo.ChannelTypeGuildText}},
			want:     []model.Block{{UserID: "100", EntityID: "300", Kind: model.EntityChannel}},
		},
		{
			name:     "category by id",
			args:     "400",
			channels: map[string]*discordgo.Channel{"400": {ID: "400", Type: discordgo.ChannelTypeGuildCategory}},
			want:     []model.Block{{UserID: "100", EntityID: "400", Kind: model.EntityCategory}},
		},
		{
			name: "unknown id falls back to user",
			args: "500",
			want: []model.Block{{UserID: "100", EntityID: "500", Kind: model.EntityUser}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, api := newTestBot(t)
			for id, ch := range tt.channels {
				api.channels[id] = ch
			}
			ctx := context.Background()

			b.handleCommand(ctx, command("g1"), "block", tt.args)

			if !api.reacted(emojiOK) {
				t.Error("block not acknowledged")
			}
			got, err := b.store.Blocks(ctx, "100")
			if err != nil {
				t.Fatalf("blocks: %v", err)
			}
			if diff := cmp.Diff(tt.want, got, cmpopts.IgnoreFields(model.Block{}, "CreatedAt")); diff != "" {
				t.Errorf("stored blocks mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// countingStore wraps a Storage and counts registration loads so tests can
// observe registry invalidation scope.
type countingStore struct {
	storage.Storage
	mu    sync.Mutex
	loads int
}

func (c *countingStore) ChannelHighlights(ctx context.Context, guildID, channelID, categoryID string) ([]model.Highlight, error) {
	c.mu.Lock()
	c.loads++
	c.mu.Unlock()
	return c.Storage.ChannelHighlights(ctx, guildID, channelID, categoryID)
}

func (c *countingStore) loadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loads
}

func TestHandleBlockInvalidationScope(t *testing.T) {
	b, api := newTestBot(t)
	store := &countingStore{Storage: b.store}
	b.store = store
	b.registry = registry.New(store, b.log)
	api.channels["300"] = &discordgo.Channel{ID: "300", Type: discordgo.ChannelTypeGuildText}
	api.channels["400"] = &discordgo.Channel{ID: "400", Type: discordgo.ChannelTypeGuildCategory}
	ctx := context.Background()

	b.handleCommand(ctx, command("g1"), "add", "coffee")
	for _, ch := range []string{"300", "301"} {
		if _, err := b.registry.Get(ctx, "g1", ch, "400"); err != nil {
			t.Fatalf("warm registry for %s: %v", ch, err)
		}
	}
	warm := store.loadCount()

	// Blocking a channel drops only that channel's cached index.
	b.handleCommand(ctx, command("g1"), "block", "<#300>")
	if _, err := b.registry.Get(ctx, "g1", "301", "400"); err != nil {
		t.Fatalf("registry lookup: %v", err)
	}
	if got := store.loadCount(); got != warm {
		t.Errorf("sibling channel reloaded after a channel block: %d loads, want %d", got, warm)
	}
	if _, err := b.registry.Get(ctx, "g1", "300", "400"); err != nil {
		t.Fatalf("registry lookup: %v", err)
	}
	if got := store.loadCount(); got != warm+1 {
		t.Errorf("blocked channel not reloaded: %d loads, want %d", got, warm+1)
	}

	// Blocking a category drops the whole guild: every channel under it is
	// affected and the cache is keyed by channel.
	b.handleCommand(ctx, command("g1"), "block", "400")
	for _, ch := range []string{"300", "301"} {
		if _, err := b.registry.Get(ctx, "g1", ch, "400"); err != nil {
			t.Fatalf("registry lookup: %v", err)
		}
	}
	if got := store.loadCount(); got != warm+3 {
		t.Errorf("category block did not drop the guild: %d loads, want %d", got, warm+3)
	}
}

func TestHandleBlockSelf(t *testing.T) {
	b, api := newTestBot(t)
	ctx := context.Background()

	b.handleCommand(ctx, command("g1"), "block", "<@100>")

	if got := api.lastReply(t, "c1"); !strings.Contains(got, "cannot block yourself") {
		t.Errorf("self-block reply = %q", got)
	}
	blocks, err := b.store.Blocks(ctx, "100")
	if err != nil {
		t.Fatalf("blocks: %v", err)
	}
	if len(blocks) != 0 {
		t.Errorf("self-block was stored: %v", blocks)
	}
}

func TestHandleUnblock(t *testing.T) {
	b, _ := newTestBot(t)
	ctx := context.Background()

	b.handleCommand(ctx, command("g1"), "block", "<@200>")
	b.handleCommand(ctx, command("g1"), "unblock", "<@200>")

	blocks, err := b.store.Blocks(ctx, "100")
	if err != nil {
		t.Fatalf("blocks: %v", err)
	}
	if len(blocks) != 0 {
		t.Errorf("blocks after unblock = %v, want empty", blocks)
	}
}

func TestHandleBlockedBy(t *testing.T) {
	b, api := newTestBot(t)
	ctx := context.Background()

	b.handleCommand(ctx, command("g1"), "blocked-by", "<@200>")
	if got := api.lastReply(t, "c1"); !strings.Contains(got, "No,") {
		t.Errorf("blocked-by reply = %q, want a negative answer", got)
	}

	// 200 blocks the asking user.
	if err := b.store.AddBlock(ctx, "200", "100", model.EntityUser); err != nil {
		t.Fatalf("add block: %v", err)
	}
	b.handleCommand(ctx, command("g1"), "blocked-by", "<@200>")
	if got := api.lastReply(t, "c1"); !strings.Contains(got, "Yes,") {
		t.Errorf("blocked-by reply = %q, want a positive answer", got)
	}
}

func TestHandleImport(t *testing.T) {
	b, api := newTestBot(t)
	ctx := context.Background()

	if err := b.store.AddHighlight(ctx, "555", "100", "coffee"); err != nil {
		t.Fatalf("add highlight: %v", err)
	}

	b.handleCommand(ctx, command("g1"), "import", "555")

	if !api.reacted(emojiOK) {
		t.Error("import not acknowledged")
	}
	got, err := b.store.UserHighlights(ctx, "g1", "100")
	if err != nil {
		t.Fatalf("user highlights: %v", err)
	}
	if diff := cmp.Diff([]string{"coffee"}, got); diff != "" {
		t.Errorf("imported highlights mismatch (-want +got):\n%s", diff)
	}
}

func TestHandleImportSameGuild(t *testing.T) {
	b, api := newTestBot(t)

	b.handleCommand(context.Background(), command("g1"), "import", "g1")

	// "g1" is not a snowflake, so usage is printed; a numeric same-guild ID
	// is refused explicitly.
	if got := api.lastReply(t, "c1"); !strings.Contains(got, "Usage") {
		t.Errorf("non-numeric import reply = %q", got)
	}

	b.handleCommand(context.Background(), command("777"), "import", "777")
	if got := api.lastReply(t, "c1"); !strings.Contains(got, "this server") {
		t.Errorf("same-guild import reply = %q", got)
	}
}

func TestHandleDeleteAccount(t *testing.T) {
	b, api := newTestBot(t)
	ctx := context.Background()

	b.handleCommand(ctx, command("g1"), "add", "coffee")
	b.handleCommand(ctx, command("g1"), "block", "<@200>")

	// Without confirmation nothing happens.
	b.handleCommand(ctx, command("g1"), "delete-my-account", "")
	if got := api.lastReply(t, "c1"); !strings.Contains(got, "Are you sure") {
		t.Errorf("unconfirmed deletion reply = %q", got)
	}
	count, err := b.store.HighlightCount(ctx, "g1", "100")
	if err != nil {
		t.Fatalf("highlight count: %v", err)
	}
	if count != 1 {
		t.Errorf("unconfirmed deletion removed data, count = %d", count)
	}

	b.handleCommand(ctx, command("g1"), "delete-my-account", "confirm")
	count, err = b.store.HighlightCount(ctx, "g1", "100")
	if err != nil {
		t.Fatalf("highlight count: %v", err)
	}
	if count != 0 {
		t.Errorf("highlights after account deletion = %d, want 0", count)
	}
	blocks, err := b.store.Blocks(ctx, "100")
	if err != nil {
		t.Fatalf("blocks: %v", err)
	}
	if len(blocks) != 0 {
		t.Errorf("blocks after account deletion = %v, want empty", blocks)
	}
}

func TestGuildOnlyCommands(t *testing.T) {
	b, api := newTestBot(t)

	b.handleCommand(context.Background(), command(""), "add", "coffee")

	if got := api.lastReply(t, "c1"); !strings.Contains(got, "inside a server") {
		t.Errorf("DM command reply = %q", got)
	}
}

func TestUnknownCommand(t *testing.T) {
	b, api := newTestBot(t)

	b.handleCommand(context.Background(), command("g1"), "frobnicate", "")

	if got := api.lastReply(t, "c1"); !strings.Contains(got, "Unknown command") {
		t.Errorf("unknown command reply = %q", got)
	}
}

func TestMember(t *testing.T) {
	b, api := newTestBot(t)
	ctx := context.Background()

	api.members["g1/200"] = &discordgo.Member{User: &discordgo.User{ID: "200"}}

	member, err := b.Member(ctx, "g1", "200")
	if err != nil {
		t.Fatalf("member: %v", err)
	}
	if !member {
		t.Error("known member reported absent")
	}

	// Unknown member is absence, not an error.
	member, err = b.Member(ctx, "g1", "999")
	if err != nil {
		t.Fatalf("member: %v", err)
	}
	if member {
		t.Error("unknown member reported present")
	}
}

func TestMessagesAroundSortsOldestFirst(t *testing.T) {
	b, api := newTestBot(t)

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	api.channelMessages = []*discordgo.Message{
		{ID: "m3", Author: &discordgo.User{ID: "a"}, Timestamp: base.Add(2 * time.Minute)},
		{ID: "m1", Author: &discordgo.User{ID: "a"}, Timestamp: base},
		{ID: "m2", Author: &discordgo.User{ID: "a"}, Timestamp: base.Add(time.Minute)},
	}

	got, err := b.MessagesAround(context.Background(), "c1", "m2", 3)
	if err != nil {
		t.Fatalf("messages around: %v", err)
	}

	var ids []string
	for _, m := range got {
		ids = append(ids, m.ID)
	}
	if diff := cmp.Diff([]string{"m1", "m2", "m3"}, ids); diff != "" {
		t.Errorf("message order mismatch (-want +got):\n%s", diff)
	}
}

func TestSendDM(t *testing.T) {
	b, api := newTestBot(t)

	if err := b.SendDM(context.Background(), "200", "hello"); err != nil {
		t.Fatalf("send dm: %v", err)
	}

	if got := api.replies("dm-200"); len(got) != 1 || got[0] != "hello" {
		t.Errorf("DM channel messages = %v, want [hello]", got)
	}
}
