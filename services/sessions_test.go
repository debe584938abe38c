package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"verifai/models"
)

func newTestStore(t *testing.T) *SessionStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.ChatSession{}, &models.Message{}, &models.Citation{}))
	return NewSessionStore(db, zap.NewNop())
}

func TestWritesWithoutUserAreRejected(t *testing.T) {
	store := newTestStore(t)

	_, err := store.CreateSession("", "x")
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	_, err = store.AppendMessage("", uuid.New(), IncomingMessage{Type: models.MessageTypeUser, Content: PlainText("hi")})
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	_, err = store.SaveCitation("", uuid.New(), models.Citation{Title: "x"})
	assert.ErrorIs(t, err, models.ErrUnauthorized)

	// Keine Teilschreibungen.
	var count int64
	store.DB.Model(&models.ChatSession{}).Count(&count)
	assert.Zero(t, count)
	store.DB.Model(&models.Message{}).Count(&count)
	assert.Zero(t, count)
}

func TestCreateSessionDefaultsTitle(t *testing.T) {
	store := newTestStore(t)

	session, err := store.CreateSession("user-1", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultSessionTitle, session.Title)
	assert.Equal(t, "user-1", session.UserID)
}

func TestEnsureSessionCreatesOnlyTheFirst(t *testing.T) {
	store := newTestStore(t)

	first, err := store.EnsureSession("user-1")
	require.NoError(t, err)

	second, err := store.EnsureSession("user-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	sessions, err := store.ListSessions("user-1")
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestListSessionsOrderedByActivity(t *testing.T) {
	store := newTestStore(t)

	older, err := store.CreateSession("user-1", "älter")
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	newer, err := store.CreateSession("user-1", "neuer")
	require.NoError(t, err)

	sessions, err := store.ListSessions("user-1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, newer.ID, sessions[0].ID)

	// Eine neue Nachricht hebt die ältere Session wieder nach oben.
	time.Sleep(10 * time.Millisecond)
	_, err = store.AppendMessage("user-1", older.ID, IncomingMessage{
		Type:    models.MessageTypeUser,
		Content: PlainText("ping"),
	})
	require.NoError(t, err)

	sessions, err = store.ListSessions("user-1")
	require.NoError(t, err)
	assert.Equal(t, older.ID, sessions[0].ID)
}

func TestSessionsAreScopedPerUser(t *testing.T) {
	store := newTestStore(t)

	mine, err := store.CreateSession("user-1", "meine")
	require.NoError(t, err)
	_, err = store.CreateSession("user-2", "fremde")
	require.NoError(t, err)

	sessions, err := store.ListSessions("user-1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, mine.ID, sessions[0].ID)

	// Fremde Sessions sind nicht mal als existent erkennbar.
	err = store.RenameSession("user-2", mine.ID, "gekapert")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = store.ListMessages("user-2", mine.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRenameUnknownSession(t *testing.T) {
	store := newTestStore(t)
	err := store.RenameSession("user-1", uuid.New(), "x")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAppendAndListMessagesKeepsOrderAndVariants(t *testing.T) {
	store := newTestStore(t)
	session, err := store.CreateSession("user-1", "chat")
	require.NoError(t, err)

	_, err = store.AppendMessage("user-1", session.ID, IncomingMessage{
		Type:    models.MessageTypeUser,
		Content: PlainText("verify this paper"),
	})
	require.NoError(t, err)
	_, err = store.AppendMessage("user-1", session.ID, IncomingMessage{
		Type:    models.MessageTypeBot,
		Content: RenderedMarkup("<ul><li>verified</li></ul>"),
	})
	require.NoError(t, err)
	_, err = store.AppendMessage("user-1", session.ID, IncomingMessage{
		Type:    models.MessageTypeBot,
		Content: OpaqueData(map[string]any{"verified": float64(1)}),
	})
	require.NoError(t, err)

	msgs, err := store.ListMessages("user-1", session.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	assert.Equal(t, ContentPlainText, msgs[0].Content.Kind)
	assert.Equal(t, "verify this paper", msgs[0].Content.Text)
	assert.Equal(t, ContentRenderedMarkup, msgs[1].Content.Kind)
	assert.Equal(t, "<ul><li>verified</li></ul>", msgs[1].Content.Text)
	assert.Equal(t, ContentOpaqueData, msgs[2].Content.Kind)
}

func TestMessagesWithEqualTimestampKeepInsertionOrder(t *testing.T) {
	store := newTestStore(t)
	session, err := store.CreateSession("user-1", "chat")
	require.NoError(t, err)

	// Schnelle Appends können denselben Timestamp bekommen; die
	// Sequenznummer hält die Einfügereihenfolge stabil.
	for i := 0; i < 20; i++ {
		_, err := store.AppendMessage("user-1", session.ID, IncomingMessage{
			Type:    models.MessageTypeUser,
			Content: PlainText(string(rune('a' + i))),
		})
		require.NoError(t, err)
	}

	msgs, err := store.ListMessages("user-1", session.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 20)
	for i, msg := range msgs {
		assert.Equal(t, string(rune('a'+i)), msg.Content.Text)
	}
}

func TestDeleteSessionCascadesAndPicksNextActive(t *testing.T) {
	store := newTestStore(t)

	survivor, err := store.CreateSession("user-1", "bleibt")
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	doomed, err := store.CreateSession("user-1", "geht")
	require.NoError(t, err)

	_, err = store.AppendMessage("user-1", doomed.ID, IncomingMessage{
		Type:    models.MessageTypeUser,
		Content: PlainText("bye"),
	})
	require.NoError(t, err)
	_, err = store.SaveCitation("user-1", doomed.ID, models.Citation{Title: "Some Paper"})
	require.NoError(t, err)

	next, err := store.DeleteSession("user-1", doomed.ID)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, survivor.ID, next.ID)

	// Messages und Citations der Session sind mit weg.
	var count int64
	store.DB.Model(&models.Message{}).Where("session_id = ?", doomed.ID).Count(&count)
	assert.Zero(t, count)
	store.DB.Model(&models.Citation{}).Where("session_id = ?", doomed.ID).Count(&count)
	assert.Zero(t, count)
}

func TestDeleteLastSessionReturnsNil(t *testing.T) {
	store := newTestStore(t)
	only, err := store.CreateSession("user-1", "einzige")
	require.NoError(t, err)

	next, err := store.DeleteSession("user-1", only.ID)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestCitationLifecycle(t *testing.T) {
	store := newTestStore(t)
	session, err := store.CreateSession("user-1", "chat")
	require.NoError(t, err)

	saved, err := store.SaveCitation("user-1", session.ID, models.Citation{Title: "Deep Residual Learning"})
	require.NoError(t, err)
	assert.Equal(t, "Reference", saved.ResearchField)
	assert.JSONEq(t, "[]", string(saved.Authors))

	time.Sleep(10 * time.Millisecond)
	newer, err := store.SaveCitation("user-1", session.ID, models.Citation{Title: "Attention Is All You Need"})
	require.NoError(t, err)

	citations, err := store.ListCitations("user-1", session.ID)
	require.NoError(t, err)
	require.Len(t, citations, 2)
	assert.Equal(t, newer.ID, citations[0].ID)

	require.NoError(t, store.DeleteCitation("user-1", session.ID, saved.ID))
	err = store.DeleteCitation("user-1", session.ID, saved.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	citations, err = store.ListCitations("user-1", session.ID)
	require.NoError(t, err)
	assert.Len(t, citations, 1)
}

func TestSubscribeReceivesSessionEvents(t *testing.T) {
	store := newTestStore(t)

	events, cancel := store.Subscribe("user-1")
	defer cancel()

	session, err := store.CreateSession("user-1", "chat")
	require.NoError(t, err)

	select {
	case event := <-events:
		assert.Equal(t, SessionCreated, event.Type)
		assert.Equal(t, session.ID, event.Session.ID)
	case <-time.After(time.Second):
		t.Fatal("expected a session event")
	}

	// Fremde Benutzer sehen das Ereignis nicht.
	other, cancelOther := store.Subscribe("user-2")
	defer cancelOther()
	_, err = store.CreateSession("user-1", "noch eins")
	require.NoError(t, err)

	select {
	case event := <-other:
		t.Fatalf("unexpected event for other user: %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	store := newTestStore(t)
	events, cancel := store.Subscribe("user-1")
	cancel()

	_, ok := <-events
	assert.False(t, ok)

	// Publizieren nach Cancel darf nicht panicen.
	_, err := store.CreateSession("user-1", "chat")
	require.NoError(t, err)
}
