// Package api is the local admin surface of the daemon: a gRPC service on
// the instance's unix socket with free-form struct payloads.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/casechat/internal/apperr"
	"github.com/matheus3301/casechat/internal/bus"
	"github.com/matheus3301/casechat/internal/chat"
	"github.com/matheus3301/casechat/internal/protocol"
	"github.com/matheus3301/casechat/internal/store"
)

const defaultTokenTTL = 24 * time.Hour

// Store is the slice of the message store the admin service reads.
type Store interface {
	Stats(ctx context.Context) (store.Stats, error)
	List(ctx context.Context, caseID, sinceID int64, limit int) ([]store.Message, error)
	UserRole(ctx context.Context, userID string) (string, error)
	UpsertUser(ctx context.Context, u store.User) error
}

// Rooms reports live room membership.
type Rooms interface {
	Rooms() map[int64]int
	JoinedUsers(caseID int64) []string
}

// Connections reports the number of live realtime sessions.
type Connections interface {
	Connections() int
}

// TokenIssuer mints session tokens.
type TokenIssuer interface {
	Issue(userID string, role protocol.Role, ttl time.Duration) (string, error)
}

// Deps are the collaborators of AdminService. Gateway and Issuer may be nil.
type Deps struct {
	Instance string
	Store    Store
	Chat     *chat.Service
	Rooms    Rooms
	Gateway  Connections
	Issuer   TokenIssuer
	Bus      *bus.Bus
	Logger   *zap.Logger
}

// AdminService implements AdminServer.
type AdminService struct {
	d         Deps
	startedAt time.Time
}

// NewAdminService creates the admin service.
func NewAdminService(d Deps) *AdminService {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &AdminService{d: d, startedAt: time.Now()}
}

func (s *AdminService) Status(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	stats, err := s.d.Store.Stats(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	out := map[string]any{
		"instance":             s.d.Instance,
		"uptime_ms":            time.Since(s.startedAt).Milliseconds(),
		"rooms":                len(s.d.Rooms.Rooms()),
		"cases":                stats.Cases,
		"messages":             stats.Messages,
		"queued_notifications": stats.QueuedNotifications,
		"failed_notifications": stats.FailedNotifications,
		"schema_version":       stats.SchemaVersion,
		"connections":          0,
		"bus_subscribers":      0,
		"bus_dropped_events":   int64(0),
	}
	if s.d.Gateway != nil {
		out["connections"] = s.d.Gateway.Connections()
	}
	if s.d.Bus != nil {
		out["bus_subscribers"] = s.d.Bus.Subscribers()
		out["bus_dropped_events"] = s.d.Bus.Dropped()
	}
	return toStruct(out)
}

func (s *AdminService) RoomStats(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	rooms := s.d.Rooms.Rooms()
	ids := make([]int64, 0, len(rooms))
	for id := range rooms {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	list := make([]any, 0, len(ids))
	for _, id := range ids {
		users := make([]any, 0)
		for _, u := range s.d.Rooms.JoinedUsers(id) {
			users = append(users, u)
		}
		list = append(list, map[string]any{
			"case_id": id,
			"members": rooms[id],
			"users":   users,
		})
	}
	return toStruct(map[string]any{"rooms": list})
}

func (s *AdminService) UnreadCount(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	caseID := intField(in, "case_id")
	userID := strField(in, "user_id")
	if caseID <= 0 || userID == "" {
		return nil, toStatus(apperr.Validation("case_id and user_id are required"))
	}
	n, err := s.d.Chat.UnreadCount(ctx, chat.Detached(userID, ""), caseID)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"case_id": caseID, "user_id": userID, "unread": n})
}

func (s *AdminService) ListMessages(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	caseID := intField(in, "case_id")
	if caseID <= 0 {
		return nil, toStatus(apperr.Validation("case_id is required"))
	}
	limit := int(intField(in, "limit"))
	if limit <= 0 {
		limit = 50
	}
	msgs, err := s.d.Store.List(ctx, caseID, intField(in, "since_id"), limit)
	if err != nil {
		return nil, toStatus(err)
	}
	wire := make([]protocol.Message, 0, len(msgs))
	for _, m := range msgs {
		wire = append(wire, chat.ToWire(m))
	}
	return toStruct(map[string]any{"case_id": caseID, "messages": wire, "has_more": len(msgs) == limit})
}

func (s *AdminService) BootstrapDirectChat(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	lawyerID := strField(in, "lawyer_id")
	role, err := s.d.Store.UserRole(ctx, lawyerID)
	if err != nil {
		return nil, toStatus(err)
	}
	c, created, err := s.d.Chat.BootstrapDirectChat(ctx, chat.Detached(lawyerID, protocol.Role(role)), chat.DirectChat{
		CounterpartyID: strField(in, "client_id"),
		Title:          strField(in, "title"),
		LegalService:   strField(in, "legal_service"),
		Priority:       strField(in, "priority"),
	})
	if err != nil {
		return nil, toStatus(err)
	}
	s.d.Logger.Info("direct chat bootstrapped via admin",
		zap.Int64("case_id", c.ID), zap.Bool("created", created))
	return toStruct(map[string]any{
		"case_id":       c.ID,
		"created":       created,
		"title":         c.Title,
		"case_number":   c.CaseNumber,
		"legal_service": c.LegalService,
		"priority":      c.Priority,
	})
}

func (s *AdminService) IssueToken(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.d.Issuer == nil {
		return nil, grpcstatus.Error(codes.FailedPrecondition, "token issuing is not configured")
	}
	userID := strField(in, "user_id")
	if userID == "" {
		return nil, toStatus(apperr.Validation("user_id is required"))
	}
	role := protocol.Role(strField(in, "role"))
	if role == "" {
		stored, err := s.d.Store.UserRole(ctx, userID)
		if err != nil {
			return nil, toStatus(err)
		}
		role = protocol.Role(stored)
	}
	if !role.Valid() {
		return nil, toStatus(apperr.Validation("unknown role %q", role))
	}
	ttl := defaultTokenTTL
	if secs := intField(in, "ttl_seconds"); secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}
	token, err := s.d.Issuer.Issue(userID, role, ttl)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{
		"token":      token,
		"user_id":    userID,
		"role":       string(role),
		"expires_at": time.Now().Add(ttl).Unix(),
	})
}

func (s *AdminService) UpsertUser(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	u := store.User{ID: strField(in, "user_id"), Role: strField(in, "role"), Name: strField(in, "name")}
	if u.ID == "" {
		return nil, toStatus(apperr.Validation("user_id is required"))
	}
	if !protocol.Role(u.Role).Valid() {
		return nil, toStatus(apperr.Validation("unknown role %q", u.Role))
	}
	if err := s.d.Store.UpsertUser(ctx, u); err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"success": true, "user_id": u.ID})
}

func (s *AdminService) WatchEvents(in *structpb.Struct, stream EventStream) error {
	if s.d.Bus == nil {
		return grpcstatus.Error(codes.Unavailable, "event bus not initialized")
	}
	ch, unsub := s.d.Bus.Subscribe(strField(in, "namespace"), 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			payload, err := toValue(evt.Payload)
			if err != nil {
				s.d.Logger.Warn("unencodable event payload", zap.String("kind", evt.Kind), zap.Error(err))
				payload = structpb.NewNullValue()
			}
			msg := &structpb.Struct{Fields: map[string]*structpb.Value{
				"event_id":       structpb.NewStringValue(uuid.NewString()),
				"instance":       structpb.NewStringValue(s.d.Instance),
				"kind":           structpb.NewStringValue(evt.Kind),
				"occurred_at_ms": structpb.NewNumberValue(float64(evt.Timestamp.UnixMilli())),
				"payload":        payload,
			}}
			if err := stream.Send(msg); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

// toStruct converts v to a Struct through its JSON form, so struct tags
// decide the field names.
func toStruct(v any) (*structpb.Struct, error) {
	val, err := toValue(v)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "encode response: %v", err)
	}
	st := val.GetStructValue()
	if st == nil {
		return nil, grpcstatus.Error(codes.Internal, "encode response: not an object")
	}
	return st, nil
}

func toValue(v any) (*structpb.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	return structpb.NewValue(generic)
}

func strField(in *structpb.Struct, key string) string {
	return in.GetFields()[key].GetStringValue()
}

// intField reads a number, accepting the decimal string form as well.
func intField(in *structpb.Struct, key string) int64 {
	v := in.GetFields()[key]
	if s, ok := v.GetKind().(*structpb.Value_StringValue); ok {
		n, _ := strconv.ParseInt(s.StringValue, 10, 64)
		return n
	}
	return int64(v.GetNumberValue())
}

// toStatus maps an application error onto a gRPC status.
func toStatus(err error) error {
	if _, ok := grpcstatus.FromError(err); ok {
		return err
	}
	msg := apperr.MessageOf(err)
	switch apperr.KindOf(err) {
	case apperr.KindAuth:
		return grpcstatus.Error(codes.Unauthenticated, msg)
	case apperr.KindForbidden:
		return grpcstatus.Error(codes.PermissionDenied, msg)
	case apperr.KindValidation:
		return grpcstatus.Error(codes.InvalidArgument, msg)
	case apperr.KindNotFound:
		return grpcstatus.Error(codes.NotFound, msg)
	case apperr.KindTransientStorage:
		return grpcstatus.Error(codes.Unavailable, msg)
	default:
		return grpcstatus.Error(codes.Internal, msg)
	}
}
