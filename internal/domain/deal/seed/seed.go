package seed

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/vadim/dealroom/internal/domain/deal/entity"
)

// ViewerPlaceholder stands for the id of the user a fixture is loaded for
const ViewerPlaceholder = "{viewer}"

//go:embed default.yaml
var defaultFixture []byte

// Fixture is a set of conversations and messages seeded at session start
type Fixture struct {
	Conversations []entity.Conversation `yaml:"conversations"`
	Messages      []entity.Message      `yaml:"messages"`
}

// Default returns the embedded development fixture
func Default() (*Fixture, error) {
	return Parse(bytes.NewReader(defaultFixture))
}

// Parse decodes a YAML fixture
func Parse(r io.Reader) (*Fixture, error) {
	var f Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decoding fixture: %w", err)
	}

	for i := range f.Conversations {
		c := &f.Conversations[i]
		if c.ID == "" {
			return nil, fmt.Errorf("conversation %d: id is required", i)
		}
		if c.Context.ID == "" {
			c.Context.ID = uuid.NewString()
		}
		if c.Context.CurrentStage == "" {
			c.Context.CurrentStage = entity.StageInquiry
		}
	}
	for i := range f.Messages {
		if err := f.Messages[i].Validate(); err != nil {
			return nil, fmt.Errorf("message %q: %w", f.Messages[i].ID, err)
		}
	}
	return &f, nil
}

// For returns copies of the fixture with the viewer placeholder replaced
func (f *Fixture) For(userID string) ([]entity.Conversation, []entity.Message) {
	convs := make([]entity.Conversation, len(f.Conversations))
	for i := range f.Conversations {
		c := f.Conversations[i].Clone()
		for j, p := range c.Context.Participants {
			c.Context.Participants[j] = bind(p, userID)
		}
		c.LastMessage.Sender = bind(c.LastMessage.Sender, userID)
		convs[i] = c
	}

	msgs := make([]entity.Message, len(f.Messages))
	for i := range f.Messages {
		m := f.Messages[i].Clone()
		m.SenderID = bind(m.SenderID, userID)
		m.RecipientID = bind(m.RecipientID, userID)
		msgs[i] = m
	}
	return convs, msgs
}

// Owned is For with conversation, context and message ids derived from the
// user id. Persisted copies of the fixture then belong to one owner and never
// share a conversation id, so the shared message log cannot mix users.
func (f *Fixture) Owned(userID string) ([]entity.Conversation, []entity.Message) {
	convs, msgs := f.For(userID)

	ids := make(map[string]string, len(convs))
	for i := range convs {
		c := &convs[i]
		scoped := ownedID(userID, "conversation", c.ID)
		ids[c.ID] = scoped
		c.ID = scoped
		c.Context.ID = ownedID(userID, "context", c.Context.ID)
	}
	for i := range msgs {
		m := &msgs[i]
		m.ID = ownedID(userID, "message", m.ID)
		if scoped, ok := ids[m.ConversationID]; ok {
			m.ConversationID = scoped
		}
	}
	return convs, msgs
}

func ownedID(userID, kind, id string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(userID+"/"+kind+"/"+id)).String()
}

func bind(v, userID string) string {
	if v == ViewerPlaceholder {
		return userID
	}
	return v
}
