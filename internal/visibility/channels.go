package visibility

import "strings"

// Channel name construction. The event name is always the trailing segment so
// consumers can recover it without a registry.
//
//	household:{key}:{event}
//	user:{id}:{event}
//	broadcast:{event}
//	global:{event}

// HouseholdChannel returns the household-scoped channel for an event.
func HouseholdChannel(householdKey, event string) string {
	return "household:" + householdKey + ":" + event
}

// UserChannel returns the user-scoped channel for an event.
func UserChannel(userID, event string) string {
	return "user:" + userID + ":" + event
}

// BroadcastChannel returns the deployment-wide channel for an event.
func BroadcastChannel(event string) string {
	return "broadcast:" + event
}

// GlobalChannel returns the operational channel for system-level events that
// ignore visibility policy (maintenance runs and the like).
func GlobalChannel(event string) string {
	return "global:" + event
}

// EmitChannel maps the active policy to the single channel an event is
// published on for the given actor.
func EmitChannel(policy PolicyLevel, vctx Context, event string) string {
	switch policy {
	case PolicyEveryone:
		return BroadcastChannel(event)
	case PolicyHousehold:
		return HouseholdChannel(vctx.HouseholdKey, event)
	default:
		return UserChannel(vctx.UserID, event)
	}
}

// SubscribeChannels returns the three scope channels an actor listens on for
// an event. Listening on all three at once means a later policy change never
// strands a connected subscriber.
func SubscribeChannels(vctx Context, event string) []string {
	return []string{
		HouseholdChannel(vctx.HouseholdKey, event),
		UserChannel(vctx.UserID, event),
		BroadcastChannel(event),
	}
}

// EventFromChannel recovers the event name from a channel name.
func EventFromChannel(channel string) string {
	i := strings.LastIndexByte(channel, ':')
	if i < 0 {
		return channel
	}
	return channel[i+1:]
}
