package services

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"verifai/models"
)

// DefaultSessionTitle ist der Titel implizit angelegter Sessions.
const DefaultSessionTitle = "Untitled Chat"

// Ereignistypen der Session-Subscription.
const (
	SessionCreated = "created"
	SessionRenamed = "renamed"
	SessionTouched = "touched"
	SessionDeleted = "deleted"
)

// SessionEvent beschreibt eine Änderung an der Session-Liste eines Benutzers.
type SessionEvent struct {
	Type    string             `json:"type"`
	Session models.ChatSession `json:"session"`
}

// IncomingMessage ist eine noch nicht persistierte Nachricht.
type IncomingMessage struct {
	Type    string
	Content MessageContent
}

// DecodedMessage ist eine gelesene Nachricht mit bereits dekodiertem Inhalt.
type DecodedMessage struct {
	ID        uuid.UUID      `json:"id"`
	SessionID uuid.UUID      `json:"session_id"`
	Type      string         `json:"type"`
	Content   MessageContent `json:"text"`
	CreatedAt time.Time      `json:"timestamp"`
}

// SessionStore besitzt ChatSessions samt Messages und Citations, immer
// gescoped auf eine user id. Schreiboperationen ohne authentifizierten
// Benutzer schlagen mit ErrUnauthorized fehl, ohne Teilschreibungen.
// Beobachter werden per Push-Subscription über Listenänderungen informiert.
type SessionStore struct {
	DB     *gorm.DB
	Logger *zap.Logger

	// seq vergibt monotone Sequenznummern als Timestamp-Tiebreak.
	seq atomic.Uint64

	mu          sync.Mutex
	subscribers map[string]map[uint64]chan SessionEvent
	nextSubID   uint64
}

// NewSessionStore erstellt einen SessionStore über der gegebenen Datenbank.
func NewSessionStore(db *gorm.DB, logger *zap.Logger) *SessionStore {
	return &SessionStore{
		DB:          db,
		Logger:      logger,
		subscribers: make(map[string]map[uint64]chan SessionEvent),
	}
}

// Subscribe registriert einen Beobachter für die Session-Liste des Benutzers.
// Die zurückgegebene Funktion beendet die Subscription. Langsame Beobachter
// verlieren Ereignisse, statt Schreiber zu blockieren.
func (s *SessionStore) Subscribe(userID string) (<-chan SessionEvent, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	ch := make(chan SessionEvent, 16)
	if s.subscribers[userID] == nil {
		s.subscribers[userID] = make(map[uint64]chan SessionEvent)
	}
	s.subscribers[userID][id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if subs, ok := s.subscribers[userID]; ok {
			if ch, ok := subs[id]; ok {
				delete(subs, id)
				close(ch)
			}
			if len(subs) == 0 {
				delete(s.subscribers, userID)
			}
		}
	}
	return ch, cancel
}

// publish verteilt ein Ereignis an alle Beobachter des Benutzers.
func (s *SessionStore) publish(userID string, event SessionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers[userID] {
		select {
		case ch <- event:
		default:
			// Voller Puffer: Ereignis für diesen Beobachter verwerfen.
		}
	}
}

// requireUser prüft den User-Scope vor jeder Operation.
func requireUser(userID string) error {
	if userID == "" {
		return models.ErrUnauthorized
	}
	return nil
}

// CreateSession legt eine neue, leere Session für den Benutzer an.
func (s *SessionStore) CreateSession(userID, title string) (*models.ChatSession, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if title == "" {
		title = DefaultSessionTitle
	}

	session := models.ChatSession{
		ID:     uuid.New(),
		UserID: userID,
		Title:  title,
	}
	if err := s.DB.Create(&session).Error; err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.Logger.Info("Session angelegt",
		zap.String("user_id", userID),
		zap.String("session_id", session.ID.String()))
	s.publish(userID, SessionEvent{Type: SessionCreated, Session: session})
	return &session, nil
}

// EnsureSession liefert die zuletzt aktualisierte Session des Benutzers und
// legt implizit eine an, wenn er noch keine besitzt. Nur die allererste
// Session entsteht implizit; alle weiteren erfordern eine explizite Aktion.
func (s *SessionStore) EnsureSession(userID string) (*models.ChatSession, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}

	var session models.ChatSession
	err := s.DB.Where("user_id = ?", userID).Order("updated_at desc").First(&session).Error
	if err == nil {
		return &session, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("ensure session: %w", err)
	}
	return s.CreateSession(userID, DefaultSessionTitle)
}

// ListSessions gibt alle Sessions des Benutzers zurück, zuletzt aktualisierte
// zuerst.
func (s *SessionStore) ListSessions(userID string) ([]models.ChatSession, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	var sessions []models.ChatSession
	if err := s.DB.Where("user_id = ?", userID).Order("updated_at desc").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// getOwnedSession lädt eine Session und prüft die Eigentümerschaft.
func (s *SessionStore) getOwnedSession(userID string, sessionID uuid.UUID) (*models.ChatSession, error) {
	var session models.ChatSession
	err := s.DB.Where("id = ? AND user_id = ?", sessionID, userID).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &session, nil
}

// RenameSession setzt den Titel einer Session.
func (s *SessionStore) RenameSession(userID string, sessionID uuid.UUID, title string) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	session, err := s.getOwnedSession(userID, sessionID)
	if err != nil {
		return err
	}
	if title == "" {
		title = DefaultSessionTitle
	}

	session.Title = title
	if err := s.DB.Model(session).Update("title", title).Error; err != nil {
		return fmt.Errorf("rename session: %w", err)
	}
	s.publish(userID, SessionEvent{Type: SessionRenamed, Session: *session})
	return nil
}

// DeleteSession löscht eine Session samt aller Messages und Citations und
// gibt die nächste aktive Session zurück: die zuletzt aktualisierte
// verbleibende, oder nil, wenn keine übrig ist.
func (s *SessionStore) DeleteSession(userID string, sessionID uuid.UUID) (*models.ChatSession, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	session, err := s.getOwnedSession(userID, sessionID)
	if err != nil {
		return nil, err
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", sessionID).Delete(&models.Citation{}).Error; err != nil {
			return err
		}
		return tx.Delete(session).Error
	})
	if err != nil {
		return nil, fmt.Errorf("delete session: %w", err)
	}

	s.Logger.Info("Session gelöscht",
		zap.String("user_id", userID),
		zap.String("session_id", sessionID.String()))
	s.publish(userID, SessionEvent{Type: SessionDeleted, Session: *session})

	var next models.ChatSession
	err = s.DB.Where("user_id = ?", userID).Order("updated_at desc").First(&next).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next session: %w", err)
	}
	return &next, nil
}

// AppendMessage hängt eine Nachricht an die Session an. Der Inhalt läuft
// durch den Codec; zusätzlich wird last-updated-at der Session aufgefrischt,
// damit die Listenreihenfolge die Aktivität widerspiegelt. Fehlgeschlagene
// Appends werden gemeldet, nie stillschweigend verworfen.
func (s *SessionStore) AppendMessage(userID string, sessionID uuid.UUID, in IncomingMessage) (*DecodedMessage, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	session, err := s.getOwnedSession(userID, sessionID)
	if err != nil {
		return nil, err
	}

	msg := models.Message{
		ID:        uuid.New(),
		SessionID: sessionID,
		Type:      in.Type,
		Content:   EncodeContent(in.Content),
		Seq:       s.seq.Add(1),
		CreatedAt: time.Now().UTC(),
	}
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&msg).Error; err != nil {
			return err
		}
		return tx.Model(session).Update("updated_at", msg.CreatedAt).Error
	})
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	session.UpdatedAt = msg.CreatedAt
	s.publish(userID, SessionEvent{Type: SessionTouched, Session: *session})

	return &DecodedMessage{
		ID:        msg.ID,
		SessionID: msg.SessionID,
		Type:      msg.Type,
		Content:   DecodeContent(msg.Content),
		CreatedAt: msg.CreatedAt,
	}, nil
}

// ListMessages liest alle Nachrichten der Session in Timestamp-Reihenfolge,
// dekodiert durch den Codec. Ein leeres Ergebnis ist von einer Session mit
// Default-Begrüßung unterscheidbar; der Aufrufer sät die Begrüßung nur bei
// wirklich leerer Liste neu.
func (s *SessionStore) ListMessages(userID string, sessionID uuid.UUID) ([]DecodedMessage, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if _, err := s.getOwnedSession(userID, sessionID); err != nil {
		return nil, err
	}

	var msgs []models.Message
	if err := s.DB.Where("session_id = ?", sessionID).Order("created_at asc, seq asc").Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	decoded := make([]DecodedMessage, 0, len(msgs))
	for _, msg := range msgs {
		decoded = append(decoded, DecodedMessage{
			ID:        msg.ID,
			SessionID: msg.SessionID,
			Type:      msg.Type,
			Content:   DecodeContent(msg.Content),
			CreatedAt: msg.CreatedAt,
		})
	}
	return decoded, nil
}

// SaveCitation persistiert eine bestätigte Referenz als Citation der Session.
func (s *SessionStore) SaveCitation(userID string, sessionID uuid.UUID, citation models.Citation) (*models.Citation, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if _, err := s.getOwnedSession(userID, sessionID); err != nil {
		return nil, err
	}

	citation.ID = uuid.New()
	citation.SessionID = sessionID
	citation.UserID = userID
	citation.CreatedAt = time.Now().UTC()
	if citation.ResearchField == "" {
		citation.ResearchField = "Reference"
	}
	if len(citation.Authors) == 0 {
		citation.Authors = datatypes.JSON("[]")
	}

	if err := s.DB.Create(&citation).Error; err != nil {
		return nil, fmt.Errorf("save citation: %w", err)
	}
	s.Logger.Info("Citation gespeichert",
		zap.String("user_id", userID),
		zap.String("session_id", sessionID.String()),
		zap.String("title", citation.Title))
	return &citation, nil
}

// ListCitations gibt die Citations der Session zurück, neueste zuerst.
func (s *SessionStore) ListCitations(userID string, sessionID uuid.UUID) ([]models.Citation, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if _, err := s.getOwnedSession(userID, sessionID); err != nil {
		return nil, err
	}

	var citations []models.Citation
	if err := s.DB.Where("session_id = ?", sessionID).Order("created_at desc").Find(&citations).Error; err != nil {
		return nil, fmt.Errorf("list citations: %w", err)
	}
	return citations, nil
}

// DeleteCitation entfernt eine einzelne Citation.
func (s *SessionStore) DeleteCitation(userID string, sessionID, citationID uuid.UUID) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	if _, err := s.getOwnedSession(userID, sessionID); err != nil {
		return err
	}

	res := s.DB.Where("id = ? AND session_id = ?", citationID, sessionID).Delete(&models.Citation{})
	if res.Error != nil {
		return fmt.Errorf("delete citation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ListAllCitations gibt sämtliche Citations eines Benutzers über alle
// Sessions zurück, neueste zuerst. Grundlage des Retraction-Audits.
func (s *SessionStore) ListAllCitations(userID string) ([]models.Citation, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	var citations []models.Citation
	if err := s.DB.Where("user_id = ?", userID).Order("created_at desc").Find(&citations).Error; err != nil {
		return nil, fmt.Errorf("list all citations: %w", err)
	}
	return citations, nil
}

// CitationsForAudit liefert alle gespeicherten Citations aller Benutzer für
// den nächtlichen Retraction-Audit.
func (s *SessionStore) CitationsForAudit() ([]models.Citation, error) {
	var citations []models.Citation
	if err := s.DB.Find(&citations).Error; err != nil {
		return nil, fmt.Errorf("citations for audit: %w", err)
	}
	return citations, nil
}
