package previewd

import (
	"context"
	"io"
)

// RemoteSource provides byte access to files on remote storage. Protocol
// details (smb, sftp, cloud APIs) live behind this interface.
type RemoteSource interface {
	// OpenFile returns a reader for the file content and the content size.
	// The reader must respect ctx cancellation.
	OpenFile(ctx context.Context, path, credentialsRef string) (rc io.ReadCloser, size int64, err error)
}

// Credentials are resolved connection parameters for a remote endpoint.
type Credentials struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// CredentialsResolver resolves an opaque credentials reference to usable
// connection parameters. Implementations never hand out stored secrets to
// anything but the protocol client.
type CredentialsResolver interface {
	Resolve(credentialsRef string) (Credentials, error)
}
