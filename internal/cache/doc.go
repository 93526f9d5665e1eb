/*
Package cache provides the tiered cache used for registry documents.

Two tiers with different bounds and lifetimes:

	┌─────────────────────────────────────────┐
	│              TieredCache                │
	│  ┌───────────────────────────────────┐  │
	│  │           MemoryCache             │  │
	│  │   • strict LRU by entry count     │  │
	│  │   • reads count as touches        │  │
	│  │   • no TTL, volatile              │  │
	│  └───────────────────────────────────┘  │
	│                    │                    │
	│  ┌───────────────────────────────────┐  │
	│  │            FileCache              │  │
	│  │   • one file per hashed key       │  │
	│  │   • TTL measured from file mtime  │  │
	│  │   • persistent across restarts    │  │
	│  └───────────────────────────────────┘  │
	└─────────────────────────────────────────┘

Reads try memory first and promote file hits. Writes go memory then file
with no cross-tier atomicity: a failed file write leaves the entry in
memory only, logged as a warning. Keys are SHA-256 hashed before touching
the filesystem, so arbitrary logical keys can never escape the cache
directory.

The file tier deliberately derives entry age from mtime alone. Anything
that rewrites or touches a cache file extends its life; there is no
separate expiry index to maintain or corrupt.
*/
package cache
