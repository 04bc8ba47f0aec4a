// Package notifier delivers countdown texts to chats.
//
// A recipient key ("chatID" or "chatID:threadID") is resolved to a chat
// target and the text goes out through the transport adapter. Sends share
// one token bucket so a burst of midnight fires stays under the platform's
// rate limit.
//
// # Dedup
//
// At most one text per recipient and local calendar day is sent within the
// dedup window. The mark is taken before the send and released if the send
// fails. With a store configured the marks survive a restart.
//
// # History
//
// The service keeps a small in-memory history of recent sends for /status.
package notifier
