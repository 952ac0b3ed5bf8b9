package whatsapp

import (
	"context"
	"fmt"

	"go.mau.fi/whatsmeow/types"

	"github.com/leandrotocalini/wagateway/internal/protocol"
)

// JoinedGroups returns every group the account participates in, without
// participant lists.
func (c *Client) JoinedGroups(ctx context.Context) ([]protocol.GroupInfo, error) {
	groups, err := c.cli.GetJoinedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get groups: %w", err)
	}

	result := make([]protocol.GroupInfo, 0, len(groups))
	for _, g := range groups {
		if g == nil {
			continue
		}
		result = append(result, groupInfo(g, nil))
	}
	return result, nil
}

// GroupInfo returns group metadata with participant phone numbers resolved
// where the LID mapping is known.
func (c *Client) GroupInfo(ctx context.Context, jid string) (*protocol.GroupInfo, error) {
	gjid, err := types.ParseJID(jid)
	if err != nil {
		return nil, fmt.Errorf("invalid group JID: %w", err)
	}

	info, err := c.cli.GetGroupInfo(ctx, gjid)
	if err != nil {
		return nil, fmt.Errorf("failed to get group info: %w", err)
	}

	out := groupInfo(info, func(p types.GroupParticipant) string {
		if !p.PhoneNumber.IsEmpty() {
			return p.PhoneNumber.User
		}
		return c.phoneJID(p.JID).User
	})
	return &out, nil
}

func groupInfo(g *types.GroupInfo, number func(types.GroupParticipant) string) protocol.GroupInfo {
	out := protocol.GroupInfo{
		JID:        g.JID.String(),
		Name:       g.Name,
		Topic:      g.Topic,
		Created:    g.GroupCreated,
		Announce:   g.IsAnnounce,
		Locked:     g.IsLocked,
		Community:  g.IsParent,
		DefaultSub: g.IsDefaultSubGroup,
	}
	if !g.OwnerJID.IsEmpty() {
		out.Owner = g.OwnerJID.String()
	}
	if number == nil {
		return out
	}
	out.Participants = make([]protocol.Participant, 0, len(g.Participants))
	for _, p := range g.Participants {
		out.Participants = append(out.Participants, protocol.Participant{
			JID:          p.JID.String(),
			Number:       number(p),
			IsAdmin:      p.IsAdmin,
			IsSuperAdmin: p.IsSuperAdmin,
		})
	}
	return out
}
