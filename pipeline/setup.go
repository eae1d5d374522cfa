package pipeline

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/weiihann/labrun/archive"
	"github.com/weiihann/labrun/build"
	"github.com/weiihann/labrun/environment"
	"github.com/weiihann/labrun/experiment"
	"github.com/weiihann/labrun/internal/env"
)

// NewEnvironment creates the backend described by spec. self is the
// labrun executable batch jobs call back into.
func NewEnvironment(
	spec experiment.EnvironmentSpec,
	self string,
	cmd environment.Commander,
	logger *slog.Logger,
) (environment.Environment, error) {
	switch spec.Kind {
	case "", "local":
		return environment.NewLocal(spec.Processes, logger), nil
	case "slurm":
		b, err := environment.NewBatch(environment.BatchConfig{
			Partition:    spec.Partition,
			Email:        spec.Email,
			MemoryPerCPU: spec.MemoryPerCPU,
			CPUsPerTask:  spec.CPUsPerTask,
			Time:         spec.Time,
			Export:       spec.Export,
			Setup:        spec.Setup,
			PollInterval: time.Duration(spec.PollInterval),
			Sbatch:       spec.Sbatch,
			Sacct:        spec.Sacct,
			Self:         self,
		}, cmd, logger)
		if err != nil {
			return nil, experiment.Errorf("environment", "%v", err)
		}

		return b, nil
	default:
		return nil, experiment.Errorf("environment.kind", "unknown backend %q", spec.Kind)
	}
}

// NewBuilder returns the CMake builder of plan, caching below the data dir.
func NewBuilder(plan *experiment.Plan, logger *slog.Logger) *build.CMake {
	return build.NewCMake(build.CMakeConfig{
		Repository: plan.Repository,
		CacheRoot:  filepath.Join(plan.DataDir, build.CacheDir),
		Name:       plan.Build.Name,
		Flags:      plan.Build.Flags,
		Executable: plan.Build.Executable,
		Jobs:       plan.Build.Jobs,
	}, build.ExecRunner{}, logger)
}

// NewArchive returns the archive target of spec and the key prefix to
// use, or a nil target when no destination is configured. S3 credentials
// come from LABRUN_S3_ACCESS_KEY and LABRUN_S3_SECRET_KEY.
func NewArchive(spec experiment.ArchiveSpec) (archive.Target, string, error) {
	if spec.Destination == "" {
		return nil, "", nil
	}

	bucket, prefix, ok := archive.ParseDestination(spec.Destination)
	if !ok {
		return archive.Dir{Root: spec.Destination}, "", nil
	}

	target, err := archive.NewS3(archive.S3Config{
		Endpoint:  spec.Endpoint,
		AccessKey: env.String("LABRUN_S3_ACCESS_KEY", ""),
		SecretKey: env.String("LABRUN_S3_SECRET_KEY", ""),
		Region:    spec.Region,
		UseSSL:    spec.UseSSL,
		Bucket:    bucket,
	})
	if err != nil {
		return nil, "", experiment.Errorf("archive", "%v", err)
	}

	return target, prefix, nil
}
