package file

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
)

// expirySeparator splits the expiry epoch from the payload.
const expirySeparator = "%%$$"

const cacheExt = ".cache"

// PathFor returns the file holding key under dir: the SHA-256 hex of the
// key split into four two-character directories and the remainder.
func PathFor(dir, key string) string {
	sum := sha256.Sum256([]byte(key))
	h := hex.EncodeToString(sum[:])
	return filepath.Join(dir, h[0:2], h[2:4], h[4:6], h[6:8], h[8:]+cacheExt)
}

func encodeFile(env *envelope) ([]byte, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	if env.expAt <= 0 {
		return payload, nil
	}
	var buf bytes.Buffer
	buf.WriteString(strconv.FormatInt(env.expAt, 10))
	buf.WriteString(expirySeparator)
	buf.Write(payload)
	return buf.Bytes(), nil
}

func decodeFile(data []byte) (*envelope, error) {
	var expAt int64
	if i := bytes.Index(data, []byte(expirySeparator)); i >= 0 && !bytes.HasPrefix(data, []byte("{")) {
		n, err := strconv.ParseInt(string(data[:i]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad expiry prefix: %w", err)
		}
		expAt = n
		data = data[i+len(expirySeparator):]
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("bad payload: %w", err)
	}
	switch env.Kind {
	case kindString, kindHash, kindSet:
	default:
		return nil, fmt.Errorf("unknown value kind %q", env.Kind)
	}
	env.expAt = expAt
	return &env, nil
}
