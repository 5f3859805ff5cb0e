package datafile

import (
	"path"
	"strconv"
	"strings"

	"github.com/danthegoodman1/icetable/partition"
)

const BucketDirPrefix = "bucket-"

type (
	// PathFactory lays out the table as <root>/<partition>/bucket-<n>/<file>.
	PathFactory struct {
		root string
	}

	// DataFilePathFactory resolves files of a single partition and bucket.
	DataFilePathFactory struct {
		parent string
	}
)

func NewPathFactory(root string) *PathFactory {
	return &PathFactory{root: root}
}

func (pf *PathFactory) Root() string {
	return pf.root
}

func BucketDirName(bucket int) string {
	return BucketDirPrefix + strconv.Itoa(bucket)
}

func (pf *PathFactory) BucketPath(p partition.Key, bucket int) string {
	return path.Join(pf.root, string(p), BucketDirName(bucket))
}

func (pf *PathFactory) DataFilePathFactory(p partition.Key, bucket int) *DataFilePathFactory {
	return &DataFilePathFactory{parent: pf.BucketPath(p, bucket)}
}

func (df *DataFilePathFactory) Parent() string {
	return df.parent
}

// ToPath is the physical location of meta.
func (df *DataFilePathFactory) ToPath(meta DataFileMeta) string {
	if meta.ExternalPath != nil {
		return *meta.ExternalPath
	}
	return path.Join(df.parent, meta.FileName)
}

// ToAlignedPath places fileName next to the physical location of aligned.
func (df *DataFilePathFactory) ToAlignedPath(fileName string, aligned DataFileMeta) string {
	return Sibling(df.ToPath(aligned), fileName)
}

// Dir drops the last element of p. Unlike path.Dir it leaves the rest of p
// untouched, so `scheme://bucket/key` locations survive.
func Dir(p string) string {
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return ""
	}
	return p[:i]
}

// Sibling replaces the last element of p with name.
func Sibling(p, name string) string {
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return name
	}
	return p[:i+1] + name
}
