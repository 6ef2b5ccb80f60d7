// Package frame implements annotation tables: ordered, named columns of
// equal length keyed by a unique string index.
//
// A column is one of three variants, *Numeric, *String or *Categorical, and
// consumers switch over all of them. Frame holds a table in memory; Table
// reads one stored in a cas.Store group column by column through lazy
// ColumnHandles. Frames convert to and from Apache Arrow records.
package frame
