package server

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/jmallard/chatd/pkg/database"
	"github.com/jmallard/chatd/pkg/protocol"
)

// respond sends one response frame with the given command code and
// arguments. The returned error indicates an unwritable connection, not
// a protocol-level failure.
func (s *Server) respond(sess *Session, command uint8, args ...string) error {
	frame := protocol.NewResponse(command)
	if err := frame.AddArgs(args...); err != nil {
		return err
	}
	if err := sess.Conn.WriteFrame(frame); err != nil {
		return err
	}
	s.metrics.RecordFrameSent()
	return nil
}

// sendError sends a typed error response.
func (s *Server) sendError(sess *Session, code uint8, message string) error {
	return s.respond(sess, code, message)
}

// dbError logs a store failure and converts it to a single server-error
// response. Other connections are unaffected.
func (s *Server) dbError(sess *Session, operation string, err error) error {
	errorLog.Printf("Session %d: %s failed: %v", sess.ID, operation, err)
	return s.sendError(sess, protocol.RespServerError, "server error")
}

// requireAuth rejects privileged commands for unauthenticated sessions.
// The connection stays open.
func (s *Server) requireAuth(sess *Session) (bool, error) {
	if sess.Authenticated() {
		return true, nil
	}
	return false, s.sendError(sess, protocol.RespNotAuthenticated, "not authenticated")
}

// wireTimestamp formats a unix-millisecond timestamp for the wire.
func wireTimestamp(millis int64) string {
	return time.UnixMilli(millis).Format(time.DateTime)
}

// validChannelName requires the leading # and at least one name byte.
func validChannelName(name string) bool {
	return strings.HasPrefix(name, "#") && len(name) >= 2
}

// handleLogin authenticates a session, auto-registering unknown
// usernames.
func (s *Server) handleLogin(sess *Session, frame *protocol.Frame) error {
	args := frame.Args()
	if len(args) != 2 {
		return s.sendError(sess, protocol.RespClientError, "login requires username and password")
	}
	username, password := args[0], args[1]
	if username == "" || password == "" {
		return s.sendError(sess, protocol.RespClientError, "username and password must be non-empty")
	}

	user, err := s.store.FindUserByName(username)
	switch {
	case errors.Is(err, database.ErrUserNotFound):
		hash, herr := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if herr != nil {
			return s.dbError(sess, "hash password", herr)
		}
		id, cerr := s.store.CreateUser(username, string(hash))
		if cerr != nil {
			return s.dbError(sess, "create user", cerr)
		}
		sess.SetUser(id, username)
		debugLog.Printf("Session %d: registered user %s", sess.ID, username)
		return s.respond(sess, protocol.RespUserCreated, s.config.ServerName)

	case err != nil:
		return s.dbError(sess, "find user", err)

	default:
		if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
			return s.respond(sess, protocol.RespBadPassword, "incorrect password")
		}
		sess.SetUser(user.ID, user.Username)
		if user.Nickname != "" {
			sess.SetNickname(user.Nickname)
		}
		debugLog.Printf("Session %d: user %s logged in", sess.ID, username)
		return s.respond(sess, protocol.RespLoginOK, s.config.ServerName)
	}
}

// handleListChannels returns all known channel names.
func (s *Server) handleListChannels(sess *Session, _ *protocol.Frame) error {
	if ok, err := s.requireAuth(sess); !ok {
		return err
	}
	return s.respond(sess, protocol.RespChannelList, s.channels.Names()...)
}

// handleListUsers returns the usernames of all online users.
func (s *Server) handleListUsers(sess *Session, _ *protocol.Frame) error {
	if ok, err := s.requireAuth(sess); !ok {
		return err
	}
	return s.respond(sess, protocol.RespUserList, s.sessions.OnlineUsernames()...)
}

// handleChannelMessage persists a channel message and fans it out to the
// channel's online members, excluding the sender.
func (s *Server) handleChannelMessage(sess *Session, frame *protocol.Frame) error {
	if ok, err := s.requireAuth(sess); !ok {
		return err
	}
	args := frame.Args()
	if len(args) != 2 {
		return s.sendError(sess, protocol.RespClientError, "channel message requires channel and text")
	}
	channelName, text := args[0], args[1]
	if len(text) == 0 || len(text) > s.config.MaxMessageLength {
		return s.respond(sess, protocol.RespSendFailed, "invalid message length")
	}

	ch, ok := s.channels.GetByName(channelName)
	if !ok {
		return s.respond(sess, protocol.RespSendFailed, "no such channel")
	}
	if !ch.IsMember(sess.UserID()) {
		return s.respond(sess, protocol.RespSendFailed, "not a member")
	}

	if err := s.store.AppendChannelMessage(sess.UserID(), ch.ID, text); err != nil {
		return s.dbError(sess, "append channel message", err)
	}

	if err := s.respond(sess, protocol.RespSendOK, "message sent"); err != nil {
		return err
	}

	s.broadcastToChannel(ch, sess.UserID(),
		"1", ch.Name, sess.Username(), text, wireTimestamp(time.Now().UnixMilli()))
	return nil
}

// handleUserMessage persists a direct message and pushes it to the
// recipient's live sessions, if any. An offline recipient is still a
// successful send.
func (s *Server) handleUserMessage(sess *Session, frame *protocol.Frame) error {
	if ok, err := s.requireAuth(sess); !ok {
		return err
	}
	args := frame.Args()
	if len(args) != 2 {
		return s.sendError(sess, protocol.RespClientError, "user message requires recipient and text")
	}
	recipientName, text := args[0], args[1]
	if len(text) == 0 || len(text) > s.config.MaxMessageLength {
		return s.respond(sess, protocol.RespSendFailed, "invalid message length")
	}

	recipient, err := s.store.FindUserByName(recipientName)
	if errors.Is(err, database.ErrUserNotFound) {
		return s.respond(sess, protocol.RespSendFailed, "no such user")
	}
	if err != nil {
		return s.dbError(sess, "find user", err)
	}

	if err := s.store.AppendDirectMessage(sess.UserID(), recipient.ID, text); err != nil {
		return s.dbError(sess, "append direct message", err)
	}

	if err := s.respond(sess, protocol.RespSendOK, "message sent"); err != nil {
		return err
	}

	s.pushToUser(recipient.ID,
		"1", sess.Username(), text, wireTimestamp(time.Now().UnixMilli()))
	return nil
}

// handleGetChannelMessages returns one page of channel history, newest
// first.
func (s *Server) handleGetChannelMessages(sess *Session, frame *protocol.Frame) error {
	if ok, err := s.requireAuth(sess); !ok {
		return err
	}
	args := frame.Args()
	if len(args) != 2 {
		return s.sendError(sess, protocol.RespClientError, "history request requires channel and page")
	}
	channelName := args[0]
	page, err := strconv.Atoi(args[1])
	if err != nil || page < 0 {
		return s.respond(sess, protocol.RespFetchFailed, "invalid page")
	}

	ch, ok := s.channels.GetByName(channelName)
	if !ok {
		return s.respond(sess, protocol.RespFetchFailed, "no such channel")
	}
	if !ch.IsMember(sess.UserID()) {
		return s.respond(sess, protocol.RespFetchFailed, "not a member")
	}

	messages, err := s.store.PageChannelMessages(ch.ID, page)
	if err != nil {
		return s.dbError(sess, "page channel messages", err)
	}

	respArgs := []string{strconv.Itoa(len(messages))}
	for _, m := range messages {
		respArgs = append(respArgs, ch.Name, m.Sender, m.Text, wireTimestamp(m.SentAt))
	}

	err = s.respond(sess, protocol.RespChannelMessage, respArgs...)
	if errors.Is(err, protocol.ErrFrameTooLarge) {
		return s.sendError(sess, protocol.RespServerError, "history page too large")
	}
	return err
}

// handleGetUserMessages returns one page of direct-message history. With
// an explicit peer, one response frame covers that conversation; without
// one, a separate frame is sent per conversation partner.
func (s *Server) handleGetUserMessages(sess *Session, frame *protocol.Frame) error {
	if ok, err := s.requireAuth(sess); !ok {
		return err
	}
	args := frame.Args()
	if len(args) != 1 && len(args) != 2 {
		return s.sendError(sess, protocol.RespClientError, "history request requires [user and] page")
	}

	page, err := strconv.Atoi(args[len(args)-1])
	if err != nil || page < 0 {
		return s.respond(sess, protocol.RespFetchFailed, "invalid page")
	}

	var peers []*database.User
	if len(args) == 2 {
		peer, err := s.store.FindUserByName(args[0])
		if errors.Is(err, database.ErrUserNotFound) {
			return s.respond(sess, protocol.RespFetchFailed, "no such user")
		}
		if err != nil {
			return s.dbError(sess, "find user", err)
		}
		peers = []*database.User{peer}
	} else {
		peerIDs, err := s.store.DistinctDirectPeers(sess.UserID())
		if err != nil {
			return s.dbError(sess, "list conversation partners", err)
		}
		if len(peerIDs) == 0 {
			return s.respond(sess, protocol.RespUserMessage, "0")
		}
		for _, peerID := range peerIDs {
			peer, err := s.store.FindUserByID(peerID)
			if err != nil {
				return s.dbError(sess, "resolve conversation partner", err)
			}
			peers = append(peers, peer)
		}
		// One frame per conversation; a stable order keeps clients simple.
		sort.Slice(peers, func(i, j int) bool { return peers[i].Username < peers[j].Username })
	}

	for _, peer := range peers {
		messages, err := s.store.PageDirectMessages(sess.UserID(), peer.ID, page)
		if err != nil {
			return s.dbError(sess, "page direct messages", err)
		}

		respArgs := []string{strconv.Itoa(len(messages))}
		for _, m := range messages {
			respArgs = append(respArgs, m.Sender, m.Text, wireTimestamp(m.SentAt))
		}

		err = s.respond(sess, protocol.RespUserMessage, respArgs...)
		if errors.Is(err, protocol.ErrFrameTooLarge) {
			return s.sendError(sess, protocol.RespServerError, "history page too large")
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// handleJoinChannel adds the user to a channel's member set. Re-joining
// an existing membership re-acks without touching the store.
func (s *Server) handleJoinChannel(sess *Session, frame *protocol.Frame) error {
	if ok, err := s.requireAuth(sess); !ok {
		return err
	}
	args := frame.Args()
	if len(args) != 1 && len(args) != 2 {
		return s.sendError(sess, protocol.RespClientError, "join requires channel [and key]")
	}
	channelName := args[0]

	ch, ok := s.channels.GetByName(channelName)
	if !ok {
		return s.respond(sess, protocol.RespNoSuchChannel, "no such channel")
	}
	if ch.JoinKey != "" {
		if len(args) != 2 || args[1] != ch.JoinKey {
			return s.respond(sess, protocol.RespNoSuchChannel, "join key required")
		}
	}

	userID := sess.UserID()
	if ch.AddMember(userID) {
		err := s.store.AddChannelMembership(ch.ID, userID, database.RoleMember)
		if err != nil && !errors.Is(err, database.ErrDuplicateMembership) {
			ch.RemoveMember(userID)
			return s.dbError(sess, "add membership", err)
		}
		debugLog.Printf("Session %d: %s joined %s", sess.ID, sess.Username(), ch.Name)
	}

	return s.respond(sess, protocol.RespJoined, ch.Name)
}

// handleCreateChannel creates a channel with the requester as creator,
// member, and admin.
func (s *Server) handleCreateChannel(sess *Session, frame *protocol.Frame) error {
	if ok, err := s.requireAuth(sess); !ok {
		return err
	}
	args := frame.Args()
	if len(args) != 2 && len(args) != 3 {
		return s.sendError(sess, protocol.RespClientError, "create requires name and description [and key]")
	}
	name, description := args[0], args[1]
	joinKey := ""
	if len(args) == 3 {
		joinKey = args[2]
	}

	if !validChannelName(name) {
		return s.respond(sess, protocol.RespCreateFailed, "channel names start with #")
	}
	if _, ok := s.channels.GetByName(name); ok {
		return s.respond(sess, protocol.RespCreateFailed, "channel already exists")
	}

	userID := sess.UserID()
	id, err := s.store.CreateChannel(name, description, joinKey, userID)
	if err != nil {
		return s.dbError(sess, "create channel", err)
	}
	if err := s.store.AddChannelMembership(id, userID, database.RoleAdmin); err != nil {
		return s.dbError(sess, "add creator membership", err)
	}

	s.channels.Add(NewChannel(id, name, description, joinKey, userID))
	debugLog.Printf("Session %d: %s created channel %s", sess.ID, sess.Username(), name)

	return s.respond(sess, protocol.RespChannelCreated, name)
}

// handleUpload stores a small file blob and announces it to the target
// channel or user.
func (s *Server) handleUpload(sess *Session, frame *protocol.Frame) error {
	if ok, err := s.requireAuth(sess); !ok {
		return err
	}
	args := frame.Args()
	if len(args) != 3 {
		return s.sendError(sess, protocol.RespClientError, "upload requires target, filename and contents")
	}
	target, filename, contents := args[0], args[1], args[2]
	if filename == "" || len(contents) == 0 || len(contents) > s.config.MaxUploadBytes {
		return s.respond(sess, protocol.RespUploadFailed, "invalid file")
	}

	meta := &database.FileMeta{
		Filename: filename,
		SenderID: sess.UserID(),
	}
	announcement := fmt.Sprintf("Sent a file %s", filename)

	if strings.HasPrefix(target, "#") {
		ch, ok := s.channels.GetByName(target)
		if !ok {
			return s.respond(sess, protocol.RespUploadFailed, "no such channel")
		}
		if !ch.IsMember(sess.UserID()) {
			return s.respond(sess, protocol.RespUploadFailed, "not a member")
		}

		id, err := s.files.Save([]byte(contents))
		if err != nil {
			errorLog.Printf("Session %d: blob save failed: %v", sess.ID, err)
			return s.respond(sess, protocol.RespUploadFailed, "storage error")
		}
		meta.UUID = id
		meta.ChannelID = ch.ID
		announcement = fmt.Sprintf("%s -> %s", announcement, id)

		if err := s.store.StoreFileMeta(meta); err != nil {
			return s.dbError(sess, "store file metadata", err)
		}
		if err := s.store.AppendChannelMessage(sess.UserID(), ch.ID, announcement); err != nil {
			return s.dbError(sess, "append channel message", err)
		}

		if err := s.respond(sess, protocol.RespUploadOK, id); err != nil {
			return err
		}
		s.broadcastToChannel(ch, sess.UserID(),
			"1", ch.Name, sess.Username(), announcement, wireTimestamp(time.Now().UnixMilli()))
		return nil
	}

	recipient, err := s.store.FindUserByName(target)
	if errors.Is(err, database.ErrUserNotFound) {
		return s.respond(sess, protocol.RespUploadFailed, "no such user")
	}
	if err != nil {
		return s.dbError(sess, "find user", err)
	}

	id, err := s.files.Save([]byte(contents))
	if err != nil {
		errorLog.Printf("Session %d: blob save failed: %v", sess.ID, err)
		return s.respond(sess, protocol.RespUploadFailed, "storage error")
	}
	meta.UUID = id
	meta.RecipientID = recipient.ID
	announcement = fmt.Sprintf("%s -> %s", announcement, id)

	if err := s.store.StoreFileMeta(meta); err != nil {
		return s.dbError(sess, "store file metadata", err)
	}
	if err := s.store.AppendDirectMessage(sess.UserID(), recipient.ID, announcement); err != nil {
		return s.dbError(sess, "append direct message", err)
	}

	if err := s.respond(sess, protocol.RespUploadOK, id); err != nil {
		return err
	}
	s.pushToUser(recipient.ID,
		"1", sess.Username(), announcement, wireTimestamp(time.Now().UnixMilli()))
	return nil
}

// handleDownload returns a stored file by id, after checking the
// requester may see it: channel files require membership, direct files
// require being the sender or recipient.
func (s *Server) handleDownload(sess *Session, frame *protocol.Frame) error {
	if ok, err := s.requireAuth(sess); !ok {
		return err
	}
	args := frame.Args()
	if len(args) != 2 {
		return s.sendError(sess, protocol.RespClientError, "download requires target and file id")
	}
	fileID := args[1]

	meta, err := s.store.FindFileByUUID(fileID)
	if errors.Is(err, database.ErrFileNotFound) {
		return s.respond(sess, protocol.RespDownloadFailed, "no such file")
	}
	if err != nil {
		return s.dbError(sess, "find file", err)
	}

	userID := sess.UserID()
	if meta.ChannelID != 0 {
		ch, ok := s.channels.Get(meta.ChannelID)
		if !ok || !ch.IsMember(userID) {
			return s.respond(sess, protocol.RespDownloadFailed, "not a member")
		}
	} else if meta.SenderID != userID && meta.RecipientID != userID {
		return s.respond(sess, protocol.RespDownloadFailed, "not your file")
	}

	contents, err := s.files.Load(meta.UUID)
	if err != nil {
		errorLog.Printf("Session %d: blob load failed: %v", sess.ID, err)
		return s.respond(sess, protocol.RespDownloadFailed, "storage error")
	}

	return s.respond(sess, protocol.RespDownloadOK, meta.Filename, string(contents))
}

// broadcastToChannel sends one pre-encoded frame to every online member
// of the channel except the sender. The member set is snapshotted first,
// so a concurrent join does not mutate the fan-out mid-send.
func (s *Server) broadcastToChannel(ch *Channel, senderID int64, args ...string) {
	data, err := s.encodeBroadcast(protocol.RespChannelMessage, args...)
	if err != nil {
		errorLog.Printf("Failed to encode broadcast for %s: %v", ch.Name, err)
		return
	}

	for _, memberID := range ch.MemberIDs() {
		if memberID == senderID {
			continue
		}
		for _, target := range s.sessions.FindByUserID(memberID) {
			if err := target.Conn.WriteBytes(data); err != nil {
				debugLog.Printf("Session %d: broadcast write failed: %v", target.ID, err)
				s.removeSession(target.ID)
				continue
			}
			s.metrics.RecordBroadcast()
		}
	}
}

// pushToUser sends one pre-encoded direct-message frame to every live
// session of the user. Offline users receive nothing; history stays
// queryable through the store.
func (s *Server) pushToUser(userID int64, args ...string) {
	data, err := s.encodeBroadcast(protocol.RespUserMessage, args...)
	if err != nil {
		errorLog.Printf("Failed to encode push for user %d: %v", userID, err)
		return
	}

	for _, target := range s.sessions.FindByUserID(userID) {
		if err := target.Conn.WriteBytes(data); err != nil {
			debugLog.Printf("Session %d: push write failed: %v", target.ID, err)
			s.removeSession(target.ID)
			continue
		}
		s.metrics.RecordBroadcast()
	}
}

// encodeBroadcast builds and encodes an unsolicited frame once, so every
// recipient gets identical bytes. An oversized broadcast is logged and
// dropped rather than truncated: the message is already persisted, so
// recipients can still fetch it through history.
func (s *Server) encodeBroadcast(command uint8, args ...string) ([]byte, error) {
	frame := protocol.NewResponse(command)
	if err := frame.AddArgs(args...); err != nil {
		return nil, err
	}
	return s.codec.Encode(frame)
}
