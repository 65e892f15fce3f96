package jobs

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Input objects are stored under keys of the form
//
//	<prefix><user_id>/<job_id>~<original_filename>
//
// The job id is a UUID generated at upload time and embedded as a prefix
// of the object name so the key alone is enough to act on a message.

// BuildInputKey constructs the storage key for a new upload.
func BuildInputKey(prefix, userID, jobID, fileName string) string {
	return fmt.Sprintf("%s%s/%s~%s", prefix, userID, jobID, fileName)
}

// ParseInputKey decodes an input object key into the embedded job id and
// the original file name. Keys that do not carry a well-formed UUID and
// a non-empty file name are rejected with ErrMalformedKey.
func ParseInputKey(key string) (jobID, fileName string, err error) {
	base := path.Base(key)
	id, name, found := strings.Cut(base, "~")
	if !found || name == "" {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedKey, key)
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", "", fmt.Errorf("%w: %q: %v", ErrMalformedKey, key, err)
	}
	return id, name, nil
}

// artifactNames derives the result and log file names from an input file
// name. For "uuid~sample.vcf" the annotation tool deposits
// "uuid~sample.annot.vcf" and "uuid~sample.vcf.count.log" next to it.
func artifactNames(inputName string) (resultName, logName string) {
	base := inputName
	if idx := strings.Index(inputName, ".vcf"); idx >= 0 {
		base = inputName[:idx]
	}
	return base + ".annot.vcf", base + ".vcf.count.log"
}

// DeriveArtifactKeys returns the storage keys for the result and log
// objects of the given input key, under the same key prefix.
func DeriveArtifactKeys(inputKey string) (resultKey, logKey string) {
	dir := path.Dir(inputKey)
	resultName, logName := artifactNames(path.Base(inputKey))
	if dir == "." {
		return resultName, logName
	}
	return dir + "/" + resultName, dir + "/" + logName
}

// LocalArtifactPaths returns the filesystem paths at which the annotation
// tool deposits the result and log files for the given local input path.
func LocalArtifactPaths(inputPath string) (resultPath, logPath string) {
	dir := filepath.Dir(inputPath)
	resultName, logName := artifactNames(filepath.Base(inputPath))
	return filepath.Join(dir, resultName), filepath.Join(dir, logName)
}
