// Package workshop resolves published workshop item metadata: title,
// owning app and the content handle addressing the item's current depot
// manifest. Resolution is batched, up to 100 ids per call.
package workshop
