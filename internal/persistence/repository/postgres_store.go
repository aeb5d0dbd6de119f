package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hilthontt/parley/internal/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type userModel struct {
	ID             int64     `gorm:"primaryKey"`
	Username       string    `gorm:"size:50;uniqueIndex;not null"`
	Email          string    `gorm:"size:100;uniqueIndex;not null"`
	HashedPassword string    `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (userModel) TableName() string { return "users" }

type friendshipModel struct {
	UserID   int64 `gorm:"primaryKey"`
	FriendID int64 `gorm:"primaryKey"`
}

func (friendshipModel) TableName() string { return "friendship" }

type chatModel struct {
	ID           int64       `gorm:"primaryKey"`
	Name         string      `gorm:"size:100"`
	IsPrivate    bool        `gorm:"not null;default:true"`
	PairKey      *string     `gorm:"size:64;uniqueIndex"`
	CreatedAt    time.Time   `gorm:"not null"`
	Participants []userModel `gorm:"many2many:user_chat;joinForeignKey:ChatID;joinReferences:UserID"`
}

func (chatModel) TableName() string { return "chats" }

type messageModel struct {
	ID        int64     `gorm:"primaryKey"`
	ChatID    int64     `gorm:"index:idx_messages_chat_time,priority:1;not null"`
	SenderID  int64     `gorm:"index;not null"`
	Content   string    `gorm:"type:text;not null"`
	Timestamp time.Time `gorm:"index:idx_messages_chat_time,priority:2;not null"`
	Sender    userModel `gorm:"foreignKey:SenderID"`
	Chat      chatModel `gorm:"foreignKey:ChatID"`
}

func (messageModel) TableName() string { return "messages" }

func (m userModel) toDomain() domain.User {
	return domain.User{
		ID:           domain.UserID(m.ID),
		Username:     m.Username,
		Email:        m.Email,
		PasswordHash: m.HashedPassword,
		CreatedAt:    m.CreatedAt,
	}
}

func (m chatModel) toDomain() domain.Chat {
	chat := domain.Chat{
		ID:           domain.ChatID(m.ID),
		Name:         m.Name,
		IsPrivate:    m.IsPrivate,
		Participants: make([]domain.User, 0, len(m.Participants)),
		CreatedAt:    m.CreatedAt,
	}
	for _, p := range m.Participants {
		chat.Participants = append(chat.Participants, p.toDomain())
	}
	return chat
}

// PostgresStore is the relational storage driver built on gorm.
type PostgresStore struct {
	db     *gorm.DB
	logger *zap.SugaredLogger
	clock  *chatClock
	// writeMu serializes message inserts so ids and timestamps advance together.
	writeMu sync.Mutex
}

var _ domain.Store = (*PostgresStore)(nil)

func NewPostgresStore(db *gorm.DB, logger *zap.SugaredLogger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &PostgresStore{db: db, logger: logger, clock: newChatClock(time.Now)}
}

// Migrate creates or updates the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(
		&userModel{},
		&friendshipModel{},
		&chatModel{},
		&messageModel{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	s.logger.Infow("schema migrated", "tables", []string{"users", "friendship", "chats", "user_chat", "messages"})
	return nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user *domain.User) error {
	model := userModel{
		Username:       user.Username,
		Email:          user.Email,
		HashedPassword: user.PasswordHash,
		CreatedAt:      user.CreatedAt,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&userModel{}).Where("username = ?", model.Username).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return domain.ErrUsernameTaken
		}
		if err := tx.Model(&userModel{}).Where("email = ?", model.Email).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return domain.ErrEmailTaken
		}
		return tx.Create(&model).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrUsernameTaken
	}
	if err != nil {
		return err
	}

	user.ID = domain.UserID(model.ID)
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id domain.UserID) (*domain.User, error) {
	var model userModel
	if err := s.db.WithContext(ctx).First(&model, int64(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	u := model.toDomain()
	return &u, nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	var model userModel
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	u := model.toDomain()
	return &u, nil
}

func (s *PostgresStore) AddFriend(ctx context.Context, userID, friendID domain.UserID) error {
	if userID == friendID {
		return domain.ErrSelfReference
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&userModel{}).Where("id IN ?", []int64{int64(userID), int64(friendID)}).Count(&count).Error; err != nil {
			return err
		}
		if count != 2 {
			return domain.ErrUserNotFound
		}

		res := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&friendshipModel{UserID: int64(userID), FriendID: int64(friendID)})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrAlreadyFriends
		}
		return nil
	})
}

func (s *PostgresStore) IsFriend(ctx context.Context, userID, friendID domain.UserID) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&friendshipModel{}).
		Where("user_id = ? AND friend_id = ?", int64(userID), int64(friendID)).
		Count(&count).Error
	return count > 0, err
}

func (s *PostgresStore) ListFriends(ctx context.Context, userID domain.UserID) ([]domain.User, error) {
	var models []userModel
	err := s.db.WithContext(ctx).
		Joins("JOIN friendship ON friendship.friend_id = users.id").
		Where("friendship.user_id = ?", int64(userID)).
		Order("users.id").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	friends := make([]domain.User, 0, len(models))
	for _, m := range models {
		friends = append(friends, m.toDomain())
	}
	return friends, nil
}

func (s *PostgresStore) CreateChat(ctx context.Context, chat *domain.Chat) error {
	if len(chat.Participants) == 0 {
		return domain.ErrInvalidInput
	}

	model := chatModel{
		Name:      chat.Name,
		IsPrivate: chat.IsPrivate,
		CreatedAt: chat.CreatedAt,
	}
	for _, p := range chat.Participants {
		model.Participants = append(model.Participants, userModel{ID: int64(p.ID)})
	}
	if chat.IsPrivate && len(chat.Participants) == 2 {
		key := privatePairKey(chat.Participants[0].ID, chat.Participants[1].ID)
		model.PairKey = &key
	}

	// Participants already exist; only the join rows are written.
	err := s.db.WithContext(ctx).Omit("Participants.*").Create(&model).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) && model.PairKey != nil {
		return domain.ErrChatExists
	}
	if err != nil {
		return err
	}

	chat.ID = domain.ChatID(model.ID)
	return nil
}

// privatePairKey is order independent so (a, b) and (b, a) collide.
func privatePairKey(a, b domain.UserID) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

func (s *PostgresStore) GetChat(ctx context.Context, id domain.ChatID) (*domain.Chat, error) {
	var model chatModel
	err := s.db.WithContext(ctx).Preload("Participants").First(&model, int64(id)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrChatNotFound
		}
		return nil, err
	}
	chat := model.toDomain()
	return &chat, nil
}

func (s *PostgresStore) FindPrivateChat(ctx context.Context, a, b domain.UserID) (*domain.Chat, error) {
	var model chatModel
	err := s.db.WithContext(ctx).
		Preload("Participants").
		Joins("JOIN user_chat uc1 ON uc1.chat_id = chats.id AND uc1.user_id = ?", int64(a)).
		Joins("JOIN user_chat uc2 ON uc2.chat_id = chats.id AND uc2.user_id = ?", int64(b)).
		Where("chats.is_private = ?", true).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrChatNotFound
		}
		return nil, err
	}
	chat := model.toDomain()
	return &chat, nil
}

func (s *PostgresStore) ListChatsByUser(ctx context.Context, userID domain.UserID) ([]domain.Chat, error) {
	var models []chatModel
	err := s.db.WithContext(ctx).
		Preload("Participants").
		Joins("JOIN user_chat ON user_chat.chat_id = chats.id").
		Where("user_chat.user_id = ?", int64(userID)).
		Order("chats.id").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	chats := make([]domain.Chat, 0, len(models))
	for _, m := range models {
		chats = append(chats, m.toDomain())
	}
	return chats, nil
}

func (s *PostgresStore) IsParticipant(ctx context.Context, userID domain.UserID, chatID domain.ChatID) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Table("user_chat").
		Where("user_id = ? AND chat_id = ?", int64(userID), int64(chatID)).
		Count(&count).Error
	return count > 0, err
}

func (s *PostgresStore) CreateMessage(ctx context.Context, senderID domain.UserID, chatID domain.ChatID, content string) (*domain.Message, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if !s.clock.known(chatID) {
		var last sql.NullTime
		row := s.db.WithContext(ctx).Model(&messageModel{}).
			Where("chat_id = ?", int64(chatID)).
			Select("MAX(timestamp)").
			Row()
		if err := row.Scan(&last); err != nil {
			return nil, fmt.Errorf("read last message time: %w", err)
		}
		if last.Valid {
			s.clock.observe(chatID, last.Time)
		}
	}

	var sender userModel
	model := messageModel{
		ChatID:    int64(chatID),
		SenderID:  int64(senderID),
		Content:   content,
		Timestamp: s.clock.next(chatID),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&chatModel{}).Where("id = ?", int64(chatID)).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return domain.ErrChatNotFound
		}
		if err := tx.First(&sender, int64(senderID)).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrUserNotFound
			}
			return err
		}
		return tx.Omit(clause.Associations).Create(&model).Error
	})
	if err != nil {
		return nil, err
	}

	return &domain.Message{
		ID:         domain.MessageID(model.ID),
		ChatID:     chatID,
		SenderID:   senderID,
		SenderName: sender.Username,
		Content:    model.Content,
		CreatedAt:  model.Timestamp,
	}, nil
}

func (s *PostgresStore) ListMessagesByChat(ctx context.Context, chatID domain.ChatID) ([]domain.Message, error) {
	var models []messageModel
	err := s.db.WithContext(ctx).
		Preload("Sender").
		Where("chat_id = ?", int64(chatID)).
		Order("timestamp, id").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	messages := make([]domain.Message, 0, len(models))
	for _, m := range models {
		messages = append(messages, domain.Message{
			ID:         domain.MessageID(m.ID),
			ChatID:     domain.ChatID(m.ChatID),
			SenderID:   domain.UserID(m.SenderID),
			SenderName: m.Sender.Username,
			Content:    m.Content,
			CreatedAt:  m.Timestamp.UTC(),
		})
	}
	return messages, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
