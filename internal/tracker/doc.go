// Package tracker keeps a rolling 24-hour history of verification attempts per
// user and answers the two questions the trigger path asks of it: did this user
// verify at this level recently, and have they failed too often in the last hour.
//
// # Architecture boundaries
//
// History lives behind [Store]. [MemoryStore] shards users across mutex-guarded
// maps; [RedisStore] keeps one sorted set per user scored by attempt time.
// Every write prunes entries older than [HistoryWindow].
//
// # What this package must NOT do
//
//   - Allow per-call tuning of the cooldown or failure windows.
//   - Block a write because pruning failed on a previous write.
package tracker
