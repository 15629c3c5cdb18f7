package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/npezzotti/go-delaychat/internal/database"
	"github.com/npezzotti/go-delaychat/internal/stats"
	"github.com/npezzotti/go-delaychat/internal/stream"
	"github.com/npezzotti/go-delaychat/internal/types"
)

type CreateConversationRequest struct {
	Name           string `json:"name"`
	ParentId       int    `json:"parent_id"`
	ParticipantIds []int  `json:"participant_ids"`
}

type UpdateAccountRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type SendMessageRequest struct {
	ConversationId int    `json:"conversation_id"`
	Body           string `json:"body"`
	Kind           string `json:"type"`
}

type SetDelayRequest struct {
	DelaySeconds float64 `json:"delay_seconds"`
}

func (s *DelayChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *DelayChatApp) healthCheck(w http.ResponseWriter, _ *http.Request) {
	if err := s.db.Ping(); err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *DelayChatApp) account(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		userId, ok := UserId(r.Context())
		if !ok {
			errResp := NewUnauthorizedError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		user, err := s.db.GetAccountById(userId)
		if err != nil {
			var errResp *ApiError
			if errors.Is(err, sql.ErrNoRows) {
				errResp = NewNotFoundError()
			} else {
				errResp = NewInternalServerError(err)
			}
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		s.writeJson(w, http.StatusOK, types.User{
			Id:           user.Id,
			Username:     user.Username,
			EmailAddress: user.EmailAddress,
			IsHabitat:    user.IsHabitat,
			CreatedAt:    user.CreatedAt,
			UpdatedAt:    user.UpdatedAt,
		})
	case http.MethodPut:
		userId, ok := UserId(r.Context())
		if !ok {
			errResp := NewUnauthorizedError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		curUser, err := s.db.GetAccountById(userId)
		if err != nil {
			var errResp *ApiError
			if errors.Is(err, sql.ErrNoRows) {
				errResp = NewNotFoundError()
			} else {
				errResp = NewInternalServerError(err)
			}
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		var updateAccountReq UpdateAccountRequest
		err = json.NewDecoder(r.Body).Decode(&updateAccountReq)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		if updateAccountReq.Username == "" || updateAccountReq.Password == "" {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		pwdHash, err := hashPassword(updateAccountReq.Password)
		if err != nil {
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		dbUser, err := s.db.UpdateAccount(database.UpdateAccountParams{
			UserId:       curUser.Id,
			Username:     updateAccountReq.Username,
			PasswordHash: pwdHash,
		})
		if err != nil {
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		s.writeJson(w, http.StatusOK, types.User{
			Id:           dbUser.Id,
			Username:     dbUser.Username,
			EmailAddress: dbUser.EmailAddress,
			IsHabitat:    dbUser.IsHabitat,
			CreatedAt:    dbUser.CreatedAt,
			UpdatedAt:    dbUser.UpdatedAt,
		})
	default:
		errResp := NewMethodNotAllowedError()
		s.writeJson(w, errResp.StatusCode, errResp)
	}
}

func (s *DelayChatApp) getConversations(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	convos, err := s.db.ConversationsForUser(userId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	userConvos := []types.Conversation{}
	for _, c := range convos {
		userConvos = append(userConvos, types.Conversation{
			Id:          c.Id,
			Name:        c.Name,
			ParentId:    int(c.ParentId.Int64),
			LastMessage: c.LastMessage,
			CreatedAt:   c.CreatedAt,
		})
	}

	s.writeJson(w, http.StatusOK, userConvos)
}

func (s *DelayChatApp) createConversation(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Name == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	convo, err := s.db.CreateConversation(database.CreateConversationParams{
		Name:     req.Name,
		ParentId: req.ParentId,
		OwnerId:  userId,
	})
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	for _, participantId := range req.ParticipantIds {
		if participantId == userId {
			continue
		}
		if err := s.db.AddParticipant(participantId, convo.Id); err != nil {
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	s.writeJson(w, http.StatusCreated, types.Conversation{
		Id:          convo.Id,
		Name:        convo.Name,
		ParentId:    int(convo.ParentId.Int64),
		LastMessage: convo.LastMessage,
		CreatedAt:   convo.CreatedAt,
	})
}

func (s *DelayChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	conversationId, err := strconv.Atoi(r.URL.Query().Get("conversation_id"))
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetAccountById(userId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	participants, err := s.db.ParticipantsOf(conversationId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if !participants[userId] {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	bothSites, err := s.db.BothSitesRepresented(conversationId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	limit := s.cfg.PageSize
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	now := time.Now().UTC()
	convoIds := []int{conversationId}

	var messages []database.Message
	if afterStr := r.URL.Query().Get("after_id"); afterStr != "" {
		afterId, err := strconv.Atoi(afterStr)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		messages, err = s.db.ArrivedMessages(convoIds, userId, user.IsHabitat, now, afterId, limit)
		if err != nil {
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	} else {
		beforeId := math.MaxInt32
		if beforeStr := r.URL.Query().Get("before_id"); beforeStr != "" {
			beforeId, err = strconv.Atoi(beforeStr)
			if err != nil {
				errResp := NewBadRequestError()
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}

		messages, err = s.db.OlderMessages(convoIds, userId, user.IsHabitat, now, beforeId, limit)
		if err != nil {
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	// Everything returned has arrived on the viewer's side, so it is
	// no longer pending for them. An empty batch surfaced nothing and
	// must leave the pending rows alone.
	if len(messages) > 0 {
		if err := s.db.MarkDelivered(convoIds, userId, user.IsHabitat, now); err != nil {
			s.log.Printf("mark delivered: %v", err)
		}
	}

	userMessages := []types.Message{}
	for _, msg := range messages {
		userMessages = append(userMessages, stream.WireMessage(msg, bothSites, now))
	}

	s.writeJson(w, http.StatusOK, userMessages)
}

func (s *DelayChatApp) sendMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Body == "" || req.ConversationId == 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	kind := req.Kind
	if kind == "" {
		kind = database.KindText
	}
	if kind != database.KindText && kind != database.KindImportant {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetAccountById(userId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	participants, err := s.db.ParticipantsOf(req.ConversationId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if !participants[userId] {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg, duplicate, err := s.db.SendMessage(database.SendMessageParams{
		ConversationId:  req.ConversationId,
		AccountId:       userId,
		AuthorIsHabitat: user.IsHabitat,
		Body:            req.Body,
		Kind:            kind,
		SentTime:        time.Now().UTC(),
		Delay:           s.clock.Current(),
	})
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	bothSites, err := s.db.BothSitesRepresented(req.ConversationId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	statusCode := http.StatusCreated
	if duplicate {
		s.stats.Incr(stats.DuplicateMessages)
		statusCode = http.StatusOK
	} else {
		s.stats.Incr(stats.MessagesSent)
	}

	s.writeJson(w, statusCode, stream.WireMessage(msg, bothSites, time.Now().UTC()))
}

func (s *DelayChatApp) uploadFile(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	conversationId, err := strconv.Atoi(r.URL.Query().Get("conversation_id"))
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetAccountById(userId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	participants, err := s.db.ParticipantsOf(conversationId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	if !participants[userId] {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadSize); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	file, header, err := r.FormFile("data")
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	defer file.Close()

	// Files are stored under a generated name so uploads with the same
	// original filename never collide.
	id, err := s.generateShortId()
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	serverName := id + filepath.Ext(header.Filename)

	if err := os.MkdirAll(s.cfg.UploadsDir, 0o755); err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dst, err := os.Create(filepath.Join(s.cfg.UploadsDir, serverName))
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	msg, duplicate, err := s.db.SendMessage(database.SendMessageParams{
		ConversationId:   conversationId,
		AccountId:        userId,
		AuthorIsHabitat:  user.IsHabitat,
		Body:             header.Filename,
		Kind:             database.KindFile,
		FileServerName:   serverName,
		FileOriginalName: header.Filename,
		FileMimeType:     mimeType,
		SentTime:         time.Now().UTC(),
		Delay:            s.clock.Current(),
	})
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	bothSites, err := s.db.BothSitesRepresented(conversationId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	statusCode := http.StatusCreated
	if duplicate {
		s.stats.Incr(stats.DuplicateMessages)
		statusCode = http.StatusOK
	} else {
		s.stats.Incr(stats.MessagesSent)
	}

	s.writeJson(w, statusCode, stream.WireMessage(msg, bothSites, time.Now().UTC()))
}

func (s *DelayChatApp) getDelay(w http.ResponseWriter, _ *http.Request) {
	s.writeJson(w, http.StatusOK, types.DelayStatus{
		Delay:    s.clock.String(),
		Distance: s.clock.DistanceString(),
	})
}

func (s *DelayChatApp) setDelay(w http.ResponseWriter, r *http.Request) {
	var req SetDelayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.DelaySeconds < 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.clock.SetManual(time.Duration(req.DelaySeconds * float64(time.Second)))

	s.writeJson(w, http.StatusOK, types.DelayStatus{
		Delay:    s.clock.String(),
		Distance: s.clock.DistanceString(),
	})
}

func (s *DelayChatApp) events(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	expiry, ok := SessionExpiry(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetAccountById(userId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	conversationId := globalConversationId
	if convoStr := r.URL.Query().Get("conversation_id"); convoStr != "" {
		conversationId, err = strconv.Atoi(convoStr)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	// Fall back to the mission-wide conversation rather than refusing
	// the stream outright when the requested one is unknown or the
	// viewer is not a participant.
	convo, err := s.db.GetConversation(conversationId)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		conversationId = globalConversationId
	} else {
		conversationId = convo.Id

		participants, err := s.db.ParticipantsOf(conversationId)
		if err != nil {
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		if !participants[userId] {
			conversationId = globalConversationId
		}
	}

	bothSites, err := s.db.BothSitesRepresented(conversationId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	lastMessageId := 0
	if lastStr := r.URL.Query().Get("last_message_id"); lastStr != "" {
		lastMessageId, err = strconv.Atoi(lastStr)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	sw, err := stream.NewSSEWriter(w)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	st := stream.NewStream(s.log, s.db, s.clock, s.stats, s.cfg, stream.Params{
		Viewer: types.User{
			Id:        user.Id,
			Username:  user.Username,
			IsHabitat: user.IsHabitat,
		},
		SessionExpiry:  expiry,
		ConversationId: conversationId,
		BothSites:      bothSites,
		LastMessageId:  lastMessageId,
	})

	if err := st.Run(r.Context(), sw); err != nil {
		s.log.Printf("stream for user %d: %v", userId, err)
	}
}
