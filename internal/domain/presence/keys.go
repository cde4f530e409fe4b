package presence

import (
	"strings"
	"time"
)

// Broker key layout. Operators are sharded per process so that every process
// only ever writes its own keys, and crashed processes disappear when their
// TTLs lapse.
const (
	keyPresence        = "ws:presence"
	prefixConnection   = "ws:connections"
	prefixOperatorRoom = "ws:operator_rooms"
	prefixOperatorSrv  = "ws:operator_servers"
	prefixRoomMembers  = "ws:rooms"
	prefixRead         = "read"
	prefixOnline       = "operator:online"
	prefixAvailability = "operator:availability"

	serverSetTTL    = 7 * 24 * time.Hour
	readMarkerTTL   = 30 * 24 * time.Hour
	availabilityTTL = 120 * 24 * time.Hour
)

func connectionKey(operatorID, serverID string) string {
	return prefixConnection + ":" + operatorID + ":" + serverID
}

func operatorRoomsKey(operatorID, serverID string) string {
	return prefixOperatorRoom + ":" + operatorID + ":" + serverID
}

func operatorServersKey(operatorID string) string {
	return prefixOperatorSrv + ":" + operatorID
}

func roomMembersKey(roomID string) string {
	return prefixRoomMembers + ":" + roomID
}

// ReadKey is the read-marker key for an operator and conversation.
func ReadKey(operatorID, conversationID string) string {
	return prefixRead + ":" + operatorID + ":" + conversationID
}

func onlineKey(operatorID string) string {
	return prefixOnline + ":" + operatorID
}

// AvailabilityKey is the per-day accumulator of online seconds.
func AvailabilityKey(day time.Time) string {
	return prefixAvailability + ":" + day.UTC().Format("2006-01-02")
}

func roomMember(operatorID, serverID string) string {
	return operatorID + ":" + serverID
}

func parseRoomMember(member string) (operatorID, serverID string, ok bool) {
	i := strings.LastIndex(member, ":")
	if i <= 0 || i == len(member)-1 {
		return "", "", false
	}
	return member[:i], member[i+1:], true
}
