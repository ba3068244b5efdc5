package realtime

import (
	"context"
	"errors"
	"time"

	v1 "notesync/shared/contracts/realtime/v1"
)

var errUnsupported = errors.New("unsupported event")

// dispatch routes one validated inbound envelope to the engine.
func (g *WSGateway) dispatch(ctx context.Context, s *Session, env v1.Envelope) error {
	switch env.Type {
	case v1.TypeCreateRoom:
		var p v1.CreateRoomPayload
		if err := decodePayload(env, &p); err != nil {
			return err
		}
		info, err := g.engine.CreateRoom(ctx, s, CreateRoomRequest{
			Name:            p.RoomName,
			Password:        p.Password,
			HasPassword:     p.HasPassword,
			AutoDeleteHours: p.AutoDeleteHours,
		})
		if err != nil {
			return err
		}
		g.engine.send(s, newEnvelope(v1.TypeRoomCreated, v1.RoomCreatedPayload{RoomID: info.ID, RoomName: info.Name}, time.Now().UTC()))
		return nil

	case v1.TypeJoinRoom:
		var p v1.JoinRoomPayload
		if err := decodePayload(env, &p); err != nil {
			return err
		}
		_, err := g.engine.Join(ctx, s, p.RoomID, p.Password, p.UserName)
		return err

	case v1.TypeLeaveRoom:
		var p v1.RoomRefPayload
		if err := decodePayload(env, &p); err != nil {
			return err
		}
		return g.engine.Leave(ctx, s, p.RoomID)

	case v1.TypeDeleteRoom:
		var p v1.RoomRefPayload
		if err := decodePayload(env, &p); err != nil {
			return err
		}
		return g.engine.DeleteRoom(ctx, s, p.RoomID)

	case v1.TypeUpdateContent:
		var p v1.UpdateContentPayload
		if err := decodePayload(env, &p); err != nil {
			return err
		}
		_, err := g.engine.SubmitEdit(ctx, s, p.RoomID, p.Content, p.ShouldEncrypt)
		return err

	case v1.TypeCursorUpdate:
		var p v1.CursorUpdatePayload
		if err := decodePayload(env, &p); err != nil {
			return err
		}
		return g.engine.UpdateCursor(ctx, s, p)

	case v1.TypeTyping:
		var p v1.TypingPayload
		if err := decodePayload(env, &p); err != nil {
			return err
		}
		return g.engine.SetTyping(ctx, s, p.RoomID, p.IsTyping)

	case v1.TypeGetVersionHistory:
		var p v1.GetVersionHistoryPayload
		if err := decodePayload(env, &p); err != nil {
			return err
		}
		vs, err := g.engine.ListVersions(ctx, s, p.RoomID, p.Limit)
		if err != nil {
			return err
		}
		out := make([]v1.VersionPayload, 0, len(vs))
		for _, v := range vs {
			out = append(out, v1.VersionPayload{
				ID:            v.ID,
				RoomID:        v.RoomID,
				VersionNumber: v.Number,
				Content:       v.Content,
				CreatedBy:     v.CreatedBy,
				CreatedAt:     v.CreatedAt,
			})
		}
		g.engine.send(s, newEnvelope(v1.TypeVersionHistory, v1.VersionHistoryPayload{RoomID: p.RoomID, Versions: out}, time.Now().UTC()))
		return nil

	case v1.TypeRestoreVersion:
		var p v1.RestoreVersionPayload
		if err := decodePayload(env, &p); err != nil {
			return err
		}
		return g.engine.RestoreVersion(ctx, s, p.RoomID, p.VersionID)

	case v1.TypePong:
		g.engine.Touch(ctx, s)
		return nil

	case v1.TypePing:
		g.engine.send(s, newEnvelope(v1.TypePong, v1.PingPayload{}, time.Now().UTC()))
		return nil

	default:
		return errUnsupported
	}
}
