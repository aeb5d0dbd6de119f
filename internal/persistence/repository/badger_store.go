package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/hilthontt/parley/internal/domain"
	"go.uber.org/zap"
)

const sequenceBandwidth = 100

type userRecord struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

type chatRecord struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	IsPrivate    bool      `json:"isPrivate"`
	Participants []int64   `json:"participants"`
	CreatedAt    time.Time `json:"createdAt"`
}

type messageRecord struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"chatId"`
	SenderID  int64     `json:"senderId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Key layout. Numeric ids are zero padded so prefix scans return them in
// ascending order.
func userKey(id domain.UserID) []byte       { return []byte(fmt.Sprintf("user:id:%019d", id)) }
func usernameKey(name string) []byte        { return []byte("user:name:" + name) }
func emailKey(email string) []byte          { return []byte("user:email:" + email) }
func friendPrefix(id domain.UserID) []byte  { return []byte(fmt.Sprintf("friend:%019d:", id)) }
func chatKey(id domain.ChatID) []byte       { return []byte(fmt.Sprintf("chat:id:%019d", id)) }
func memberPrefix(id domain.UserID) []byte  { return []byte(fmt.Sprintf("member:%019d:", id)) }
func messagePrefix(id domain.ChatID) []byte { return []byte(fmt.Sprintf("msg:%019d:", id)) }

func friendKey(userID, friendID domain.UserID) []byte {
	return []byte(fmt.Sprintf("friend:%019d:%019d", userID, friendID))
}

func memberKey(userID domain.UserID, chatID domain.ChatID) []byte {
	return []byte(fmt.Sprintf("member:%019d:%019d", userID, chatID))
}

func pairKey(a, b domain.UserID) []byte {
	if a > b {
		a, b = b, a
	}
	return []byte(fmt.Sprintf("pair:%019d:%019d", a, b))
}

func messageKey(chatID domain.ChatID, id domain.MessageID) []byte {
	return []byte(fmt.Sprintf("msg:%019d:%019d", chatID, id))
}

// BadgerStore is the embedded storage driver. Values are JSON encoded.
type BadgerStore struct {
	db     *badger.DB
	logger *zap.SugaredLogger

	userSeq    *badger.Sequence
	chatSeq    *badger.Sequence
	messageSeq *badger.Sequence

	clock *chatClock
	// writeMu serializes message inserts so ids and timestamps advance together.
	writeMu sync.Mutex
}

var _ domain.Store = (*BadgerStore)(nil)

func NewBadgerStore(db *badger.DB, logger *zap.SugaredLogger) (*BadgerStore, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	s := &BadgerStore{
		db:     db,
		logger: logger,
		clock:  newChatClock(time.Now),
	}

	var err error
	if s.userSeq, err = db.GetSequence([]byte("seq:user"), sequenceBandwidth); err != nil {
		return nil, fmt.Errorf("user sequence: %w", err)
	}
	if s.chatSeq, err = db.GetSequence([]byte("seq:chat"), sequenceBandwidth); err != nil {
		return nil, fmt.Errorf("chat sequence: %w", err)
	}
	if s.messageSeq, err = db.GetSequence([]byte("seq:message"), sequenceBandwidth); err != nil {
		return nil, fmt.Errorf("message sequence: %w", err)
	}

	return s, nil
}

// nextID skips zero so every persisted id is positive.
func nextID(seq *badger.Sequence) (int64, error) {
	for {
		n, err := seq.Next()
		if err != nil {
			return 0, err
		}
		if n > 0 {
			return int64(n), nil
		}
	}
}

func getJSON(txn *badger.Txn, key []byte, dst any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, dst)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}
	return txn.Set(key, data)
}

func getID(txn *badger.Txn, key []byte) (int64, error) {
	item, err := txn.Get(key)
	if err != nil {
		return 0, err
	}
	var id int64
	err = item.Value(func(val []byte) error {
		id, err = strconv.ParseInt(string(val), 10, 64)
		return err
	})
	return id, err
}

func exists(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// trailingID parses the id after the last ':' of a composite key.
func trailingID(key []byte) (int64, error) {
	s := string(key)
	return strconv.ParseInt(s[strings.LastIndexByte(s, ':')+1:], 10, 64)
}

func scanIDs(txn *badger.Txn, prefix []byte) ([]int64, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []int64
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		id, err := trailingID(it.Item().Key())
		if err != nil {
			return nil, fmt.Errorf("corrupt key %q: %w", it.Item().Key(), err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r userRecord) toDomain() domain.User {
	return domain.User{
		ID:           domain.UserID(r.ID),
		Username:     r.Username,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt,
	}
}

func loadUser(txn *badger.Txn, id domain.UserID) (*domain.User, error) {
	var rec userRecord
	if err := getJSON(txn, userKey(id), &rec); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	u := rec.toDomain()
	return &u, nil
}

func loadChat(txn *badger.Txn, id domain.ChatID) (*domain.Chat, error) {
	var rec chatRecord
	if err := getJSON(txn, chatKey(id), &rec); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, domain.ErrChatNotFound
		}
		return nil, err
	}

	chat := &domain.Chat{
		ID:           domain.ChatID(rec.ID),
		Name:         rec.Name,
		IsPrivate:    rec.IsPrivate,
		Participants: make([]domain.User, 0, len(rec.Participants)),
		CreatedAt:    rec.CreatedAt,
	}
	for _, pid := range rec.Participants {
		u, err := loadUser(txn, domain.UserID(pid))
		if err != nil {
			return nil, fmt.Errorf("participant %d of chat %d: %w", pid, rec.ID, err)
		}
		chat.Participants = append(chat.Participants, *u)
	}
	return chat, nil
}

func (s *BadgerStore) CreateUser(_ context.Context, user *domain.User) error {
	id, err := nextID(s.userSeq)
	if err != nil {
		return fmt.Errorf("allocate user id: %w", err)
	}

	rec := userRecord{
		ID:           id,
		Username:     user.Username,
		Email:        user.Email,
		PasswordHash: user.PasswordHash,
		CreatedAt:    user.CreatedAt,
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if taken, err := exists(txn, usernameKey(rec.Username)); err != nil {
			return err
		} else if taken {
			return domain.ErrUsernameTaken
		}
		if rec.Email != "" {
			if taken, err := exists(txn, emailKey(rec.Email)); err != nil {
				return err
			} else if taken {
				return domain.ErrEmailTaken
			}
			if err := txn.Set(emailKey(rec.Email), []byte(strconv.FormatInt(id, 10))); err != nil {
				return err
			}
		}
		if err := txn.Set(usernameKey(rec.Username), []byte(strconv.FormatInt(id, 10))); err != nil {
			return err
		}
		return setJSON(txn, userKey(domain.UserID(id)), rec)
	})
	// A concurrent registration touched the same username or email key.
	if errors.Is(err, badger.ErrConflict) {
		return domain.ErrUsernameTaken
	}
	if err != nil {
		return err
	}

	user.ID = domain.UserID(id)
	return nil
}

func (s *BadgerStore) GetUser(_ context.Context, id domain.UserID) (*domain.User, error) {
	var user *domain.User
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		user, err = loadUser(txn, id)
		return err
	})
	return user, err
}

func (s *BadgerStore) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	var user *domain.User
	err := s.db.View(func(txn *badger.Txn) error {
		id, err := getID(txn, usernameKey(username))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return domain.ErrUserNotFound
		}
		if err != nil {
			return err
		}
		user, err = loadUser(txn, domain.UserID(id))
		return err
	})
	return user, err
}

func (s *BadgerStore) AddFriend(_ context.Context, userID, friendID domain.UserID) error {
	if userID == friendID {
		return domain.ErrSelfReference
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for _, id := range []domain.UserID{userID, friendID} {
			if _, err := loadUser(txn, id); err != nil {
				return err
			}
		}
		key := friendKey(userID, friendID)
		if ok, err := exists(txn, key); err != nil {
			return err
		} else if ok {
			return domain.ErrAlreadyFriends
		}
		return txn.Set(key, nil)
	})
}

func (s *BadgerStore) IsFriend(_ context.Context, userID, friendID domain.UserID) (bool, error) {
	var ok bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		ok, err = exists(txn, friendKey(userID, friendID))
		return err
	})
	return ok, err
}

func (s *BadgerStore) ListFriends(_ context.Context, userID domain.UserID) ([]domain.User, error) {
	friends := []domain.User{}
	err := s.db.View(func(txn *badger.Txn) error {
		ids, err := scanIDs(txn, friendPrefix(userID))
		if err != nil {
			return err
		}
		for _, id := range ids {
			u, err := loadUser(txn, domain.UserID(id))
			if err != nil {
				return err
			}
			friends = append(friends, *u)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return friends, nil
}

func (s *BadgerStore) CreateChat(_ context.Context, chat *domain.Chat) error {
	if len(chat.Participants) == 0 {
		return domain.ErrInvalidInput
	}

	id, err := nextID(s.chatSeq)
	if err != nil {
		return fmt.Errorf("allocate chat id: %w", err)
	}

	rec := chatRecord{
		ID:        id,
		Name:      chat.Name,
		IsPrivate: chat.IsPrivate,
		CreatedAt: chat.CreatedAt,
	}
	for _, p := range chat.Participants {
		rec.Participants = append(rec.Participants, int64(p.ID))
	}

	private := rec.IsPrivate && len(rec.Participants) == 2
	err = s.db.Update(func(txn *badger.Txn) error {
		if private {
			// Reading the pair key makes a concurrent insert for the same
			// pair fail with badger.ErrConflict at commit.
			pk := pairKey(domain.UserID(rec.Participants[0]), domain.UserID(rec.Participants[1]))
			if taken, err := exists(txn, pk); err != nil {
				return err
			} else if taken {
				return domain.ErrChatExists
			}
			if err := txn.Set(pk, []byte(strconv.FormatInt(id, 10))); err != nil {
				return err
			}
		}
		for _, pid := range rec.Participants {
			if _, err := loadUser(txn, domain.UserID(pid)); err != nil {
				return err
			}
			if err := txn.Set(memberKey(domain.UserID(pid), domain.ChatID(id)), nil); err != nil {
				return err
			}
		}
		return setJSON(txn, chatKey(domain.ChatID(id)), rec)
	})
	if private && errors.Is(err, badger.ErrConflict) {
		return domain.ErrChatExists
	}
	if err != nil {
		return err
	}

	chat.ID = domain.ChatID(id)
	return nil
}

func (s *BadgerStore) GetChat(_ context.Context, id domain.ChatID) (*domain.Chat, error) {
	var chat *domain.Chat
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		chat, err = loadChat(txn, id)
		return err
	})
	return chat, err
}

func (s *BadgerStore) FindPrivateChat(_ context.Context, a, b domain.UserID) (*domain.Chat, error) {
	var chat *domain.Chat
	err := s.db.View(func(txn *badger.Txn) error {
		id, err := getID(txn, pairKey(a, b))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return domain.ErrChatNotFound
		}
		if err != nil {
			return err
		}
		chat, err = loadChat(txn, domain.ChatID(id))
		return err
	})
	return chat, err
}

func (s *BadgerStore) ListChatsByUser(_ context.Context, userID domain.UserID) ([]domain.Chat, error) {
	chats := []domain.Chat{}
	err := s.db.View(func(txn *badger.Txn) error {
		ids, err := scanIDs(txn, memberPrefix(userID))
		if err != nil {
			return err
		}
		for _, id := range ids {
			chat, err := loadChat(txn, domain.ChatID(id))
			if err != nil {
				return err
			}
			chats = append(chats, *chat)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chats, nil
}

func (s *BadgerStore) IsParticipant(_ context.Context, userID domain.UserID, chatID domain.ChatID) (bool, error) {
	var ok bool
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		ok, err = exists(txn, memberKey(userID, chatID))
		return err
	})
	return ok, err
}

func (s *BadgerStore) lastMessageTime(txn *badger.Txn, chatID domain.ChatID) (time.Time, error) {
	prefix := messagePrefix(chatID)

	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	seek := append(append([]byte{}, prefix...), 0xFF)
	it.Seek(seek)
	if !it.ValidForPrefix(prefix) {
		return time.Time{}, nil
	}

	var rec messageRecord
	err := it.Item().Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	return rec.CreatedAt, err
}

func (s *BadgerStore) CreateMessage(_ context.Context, senderID domain.UserID, chatID domain.ChatID, content string) (*domain.Message, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if !s.clock.known(chatID) {
		err := s.db.View(func(txn *badger.Txn) error {
			last, err := s.lastMessageTime(txn, chatID)
			if err == nil && !last.IsZero() {
				s.clock.observe(chatID, last)
			}
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("read last message time: %w", err)
		}
	}

	id, err := nextID(s.messageSeq)
	if err != nil {
		return nil, fmt.Errorf("allocate message id: %w", err)
	}

	rec := messageRecord{
		ID:        id,
		ChatID:    int64(chatID),
		SenderID:  int64(senderID),
		Content:   content,
		CreatedAt: s.clock.next(chatID),
	}

	var sender *domain.User
	err = s.db.Update(func(txn *badger.Txn) error {
		ok, err := exists(txn, chatKey(chatID))
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrChatNotFound
		}
		if sender, err = loadUser(txn, senderID); err != nil {
			return err
		}
		return setJSON(txn, messageKey(chatID, domain.MessageID(id)), rec)
	})
	if err != nil {
		return nil, err
	}

	return &domain.Message{
		ID:         domain.MessageID(rec.ID),
		ChatID:     chatID,
		SenderID:   senderID,
		SenderName: sender.Username,
		Content:    rec.Content,
		CreatedAt:  rec.CreatedAt,
	}, nil
}

func (s *BadgerStore) ListMessagesByChat(_ context.Context, chatID domain.ChatID) ([]domain.Message, error) {
	messages := []domain.Message{}
	prefix := messagePrefix(chatID)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		names := map[int64]string{}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec messageRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("failed to unmarshal message: %w", err)
			}

			name, ok := names[rec.SenderID]
			if !ok {
				u, err := loadUser(txn, domain.UserID(rec.SenderID))
				if err != nil {
					return err
				}
				name = u.Username
				names[rec.SenderID] = name
			}

			messages = append(messages, domain.Message{
				ID:         domain.MessageID(rec.ID),
				ChatID:     domain.ChatID(rec.ChatID),
				SenderID:   domain.UserID(rec.SenderID),
				SenderName: name,
				Content:    rec.Content,
				CreatedAt:  rec.CreatedAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error during message fetch: %w", err)
	}

	return messages, nil
}

func (s *BadgerStore) Ping(_ context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger is closed")
	}
	return nil
}

func (s *BadgerStore) Close() error {
	for _, seq := range []*badger.Sequence{s.userSeq, s.chatSeq, s.messageSeq} {
		if err := seq.Release(); err != nil {
			s.logger.Warnw("failed to release sequence", "error", err)
		}
	}
	return s.db.Close()
}
