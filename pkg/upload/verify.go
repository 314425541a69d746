package upload

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cuemby/scanarchiver/pkg/objectstore"
)

// VerifyResult is the outcome of comparing a local file's MD5 to the
// object store's head MD5 after upload.
type VerifyResult struct {
	OK        bool
	LocalMD5  string
	RemoteMD5 string
	Err       error
}

// VerifyIntegrity computes localPath's MD5 and compares it to the
// object store's Head result for remotePath. A mismatch is reported with
// the exact error text the spec names ("Hash mismatch: local=X remote=Y"),
// which callers classify as transient. A missing local file is reported
// separately (LocalFileMissing is a permanent error per the taxonomy).
func VerifyIntegrity(ctx context.Context, store objectstore.Store, localPath, remotePath string) VerifyResult {
	localMD5, err := md5File(localPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return VerifyResult{Err: fmt.Errorf("LocalFileMissing: %s", localPath)}
		}
		return VerifyResult{Err: fmt.Errorf("read local file for integrity check: %w", err)}
	}

	info, err := store.Head(ctx, remotePath)
	if err != nil {
		return VerifyResult{LocalMD5: localMD5, Err: errors.New("Could not retrieve GCS object hash")}
	}

	if info.MD5 != localMD5 {
		return VerifyResult{
			LocalMD5:  localMD5,
			RemoteMD5: info.MD5,
			Err:       fmt.Errorf("Hash mismatch: local=%s remote=%s", localMD5, info.MD5),
		}
	}

	return VerifyResult{OK: true, LocalMD5: localMD5, RemoteMD5: info.MD5}
}

func md5File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}
