// Package visibility decides which objects each viewer may see.
//
// A Strategy answers IsVisible for one object and viewer against the current
// canonical graph and notifies subscribers when that answer flips. Nothing is
// cached: every call recomputes from the object's properties, and Rules
// recomputes before/after values for the properties in Policy.Watched()
// whenever one of them changes.
//
// Open shows everything. Rules applies a Policy table loaded from a ruleset.
// RulesAccess layers read/write Access on top of Rules, and
// VisibilityFromAccess turns any AccessStrategy back into a Strategy.
package visibility
