// Package sync implements the incremental depot sync engine: deciding which
// remote files can be satisfied from local disk, staging fresh content, and
// swapping it into place atomically.
//
// # Architecture
//
// The engine consists of five cooperating pieces:
//
//  1. Matcher: compiled glob patterns selecting which manifest files to sync.
//  2. Plan: partitions the selected manifest entries into files reusable by
//     copy from the previous published state and files that must be
//     downloaded. Reuse requires an exact size match and a byte-for-byte
//     content hash match.
//  3. Stager: builds output in a staging directory derived from the target
//     path and promotes it with a three-step rename sequence, so an external
//     reader only ever observes the fully-old or fully-new target.
//  4. Executor: drives one item end to end against the content delivery
//     service; every failure is contained to that item.
//  5. Pipeline: overlaps throttled metadata resolution with sequential
//     download execution through a hand-off queue, accounting metadata and
//     download failures separately but reporting both.
//
// # Consistency
//
// The target directory is never observable in a mixed state: staging is
// populated fully before publish, the previous target is parked at a backup
// path during the swap, and a failed swap rolls the backup into place. Only
// an unrollbackable publish escalates beyond the item.
package sync
