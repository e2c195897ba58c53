package domain

import (
	"time"
)

type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

type Kind string

const (
	KindManual    Kind = "manual"
	KindAutomatic Kind = "automatic"
)

// Artifact is a single backup or sync payload file.
type Artifact struct {
	Name      string
	LocalPath string
	SizeBytes int64
	CreatedAt time.Time
	Origin    Origin
	Kind      Kind
	Manifest  *Manifest
}

// SchemaVersion is written into every manifest this build produces.
const SchemaVersion = 1

// Manifest is only trusted after ContentHash has been recomputed from the
// paired payload and found equal.
type Manifest struct {
	CreatedAt     time.Time   `json:"created_at"`
	ContentHash   string      `json:"content_hash"`
	SchemaVersion int         `json:"schema_version"`
	SourceFiles   []string    `json:"source_files"`
	Files         []FileEntry `json:"files"`
}

type FileEntry struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

type TransferType string

const (
	TransferManual    TransferType = "manual"
	TransferAutomatic TransferType = "automatic"
	TransferPush      TransferType = "push"
	TransferPull      TransferType = "pull"
)

// TransferRecord is one append-only row of backup/sync history.
type TransferRecord struct {
	ArtifactName string
	LocalPath    string
	SizeBytes    int64
	Type         TransferType
	Providers    []string
	CreatedAt    time.Time
}

func KindTransferType(k Kind) TransferType {
	switch k {
	case KindAutomatic:
		return TransferAutomatic
	default:
		return TransferManual
	}
}
