package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/wakehub/wakehub/internal/apperrors"
	"github.com/wakehub/wakehub/internal/blob"
	"github.com/wakehub/wakehub/internal/cloud"
	"github.com/wakehub/wakehub/internal/events"
	"github.com/wakehub/wakehub/internal/metrics"
	"github.com/wakehub/wakehub/internal/registry"
	"github.com/wakehub/wakehub/internal/zeroconf"
)

// run is the state of one wake-and-play execution.
type run struct {
	o          *Orchestrator
	ctx        context.Context
	runID      string
	alarmID    string
	target     string
	contextURI string
	shuffle    bool

	profile *registry.DeviceProfile
	metrics *PhaseMetrics
	state   State
	start   time.Time
	logger  zerolog.Logger
}

// execute drives the timeline. Phase numbering follows the wake ladder:
// cloud fast path, profile resolution, breaker gate, then the primary path
// (IP wake, discovery, activation, poll, stage, play, confirm) with the
// fallback ladder behind it.
func (r *run) execute() (*PhaseMetrics, error) {
	defer r.finalize()
	r.logger.Info().Str("context_uri", r.contextURI).Msg("starting alarm playback")

	// Phase 1: the device may already be cloud-visible.
	device, err := r.webAPICheck()
	if err != nil {
		return r.route(err)
	}
	if device != nil {
		return r.route(r.finish(*device, BranchWebAPIDirect))
	}
	if r.cancelled() {
		return r.cancel()
	}

	// Phase 2: resolve the profile; unknown targets get a minimal one.
	r.ensureProfile()

	// Phase 3: breaker gate.
	if r.o.breaker.ShouldBypassPrimary(r.target) {
		r.logger.Warn().Msg("bypassing primary path, circuit breaker open")
		return r.failover(ReasonBreakerOpen)
	}

	return r.route(r.primary())
}

// route turns a primary-path outcome into the run result: success returns
// the metrics, cancellation and misconfiguration are terminal, and anything
// else records a breaker failure and enters the fallback ladder.
func (r *run) route(err error) (*PhaseMetrics, error) {
	if err == nil {
		return r.metrics, nil
	}
	if r.cancelled() {
		return r.cancel()
	}
	if misconfigured(err) {
		r.metrics.Branch = FailedBranch(ReasonMisconfigured)
		r.logger.Error().Err(err).Msg("run aborted, hub misconfigured")
		return r.metrics, err
	}

	reason := err.Error()
	var pf *phaseFailure
	if errors.As(err, &pf) {
		reason = pf.reason
	}
	r.o.breaker.RecordFailure(r.target)
	return r.failover(reason)
}

// misconfigured reports hub-level failures no retry or fallback can fix: a
// configuration error proper, or a hub whose Spotify account was never
// linked.
func misconfigured(err error) bool {
	return apperrors.HasCode(err, apperrors.ErrorCodeMisconfigured) ||
		apperrors.HasCode(err, apperrors.ErrorCodeSpotifyNotLinked)
}

// primary walks phases 4 through 11.
func (r *run) primary() error {
	// Phase 4: IP wake against the last known endpoint.
	if r.profile.HasEndpoint() {
		device, err := r.ipWake()
		if err != nil {
			return err
		}
		if device != nil {
			return r.finish(*device, BranchPrimaryIPWakeup)
		}
	}

	// Phase 5: mDNS discovery, cached coordinates as backstop.
	endpoint, err := r.discover()
	if err != nil {
		return err
	}

	// Phase 6: activation handshake (getInfo + addUser).
	if err := r.activate(endpoint); err != nil {
		return err
	}

	// Phases 7-11.
	return r.chase(BranchPrimary)
}

// chase runs the cloud-visibility poll and, on a match, the playback half of
// the timeline. Shared by the primary path and fallback ladder step one.
func (r *run) chase(branch string) error {
	device, err := r.cloudPoll()
	if err != nil {
		return err
	}
	return r.finish(*device, branch)
}

// webAPICheck is phase 1: if the device already shows up in the cloud list
// the whole local wake ladder is skipped.
func (r *run) webAPICheck() (*cloud.CloudDevice, error) {
	start := r.phaseStart(phaseWebAPICheck)

	// The profile, when one exists, contributes its learned names to
	// matching. Missing profiles are synthesized later, in phase 2.
	profile, err := r.o.registry.Get(r.target)
	if err != nil {
		r.logger.Error().Err(err).Msg("profile lookup failed, matching on target name only")
		r.metrics.addError("profile lookup: "+err.Error(), phaseWebAPICheck)
	}
	r.profile = profile

	devices, err := r.o.cloud.Devices(r.ctx)
	if err != nil {
		if r.cancelled() || misconfigured(err) {
			return nil, err
		}
		r.logger.Warn().Err(err).Msg("cloud check failed, proceeding with local wake")
		r.metrics.addError("cloud check: "+err.Error(), phaseWebAPICheck)
		r.phaseEnd(phaseWebAPICheck, start, false)
		return nil, nil
	}

	device := pickDevice(devices, r.matchingNames())
	if device == nil {
		r.logger.Debug().Int("cloud_devices", len(devices)).Msg("device not cloud-visible yet, proceeding with local wake")
		r.phaseEnd(phaseWebAPICheck, start, false)
		return nil, nil
	}

	r.logger.Info().Str("cloud_name", device.Name).Str("device_id", device.ID).
		Msg("device already cloud-visible, skipping local wake")
	r.learn(device.Name)
	r.setState(StateCloudVisible)
	r.metrics.DiscoveredMS = r.sinceStartMS()
	r.metrics.CloudVisibleMS = r.metrics.DiscoveredMS
	r.phaseEnd(phaseWebAPICheck, start, true)
	return device, nil
}

// ensureProfile is phase 2: load or synthesize the device profile.
func (r *run) ensureProfile() {
	if r.profile != nil {
		return
	}
	r.profile = registry.Synthesize(r.target)
	r.logger.Info().Msg("target not in registry, using minimal profile")
}

// ipWake is phase 4: poke the device's known control endpoint, then re-check
// whether it surfaced in the cloud. Both steps are best-effort.
func (r *run) ipWake() (*cloud.CloudDevice, error) {
	start := r.phaseStart(phaseIPWakeup)
	endpoint := r.profile.Endpoint()

	if _, err := r.o.device.GetInfo(r.ctx, endpoint); err != nil {
		if r.cancelled() {
			return nil, err
		}
		r.logger.Debug().Err(err).Str("ip", endpoint.IP).Msg("ip wake did not reach device")
		r.phaseEnd(phaseIPWakeup, start, false)
		return nil, nil
	}

	devices, err := r.o.cloud.Devices(r.ctx)
	if err != nil {
		if r.cancelled() || misconfigured(err) {
			return nil, err
		}
		r.logger.Warn().Err(err).Msg("cloud re-check after ip wake failed")
		r.metrics.addError("cloud re-check: "+err.Error(), phaseIPWakeup)
		r.phaseEnd(phaseIPWakeup, start, false)
		return nil, nil
	}

	device := pickDevice(devices, r.matchingNames())
	if device == nil {
		r.phaseEnd(phaseIPWakeup, start, false)
		return nil, nil
	}

	r.logger.Info().Str("cloud_name", device.Name).Msg("device appeared in cloud after ip wake")
	r.learn(device.Name)
	r.setState(StateCloudVisible)
	r.metrics.DiscoveredMS = r.sinceStartMS()
	r.metrics.CloudVisibleMS = r.metrics.DiscoveredMS
	r.phaseEnd(phaseIPWakeup, start, true)
	return device, nil
}

// discover is phase 5: find the device's control endpoint via mDNS, falling
// back to the profile's cached coordinates when the network is silent.
func (r *run) discover() (zeroconf.Endpoint, error) {
	start := r.phaseStart(phaseDiscovery)

	result, err := r.o.browser.DiscoverByName(r.ctx, r.target, r.o.cfg.DiscoveryTimeout)
	if err != nil {
		if r.cancelled() {
			return zeroconf.Endpoint{}, err
		}
		r.logger.Warn().Err(err).Msg("mDNS browse failed")
		r.metrics.addError("mdns browse: "+err.Error(), phaseDiscovery)
	}

	if result != nil && result.Complete() {
		endpoint := zeroconf.Endpoint{
			IP:    result.IP,
			Port:  result.Port,
			CPath: registry.NormalizeCPath(result.CPath),
		}
		r.setState(StateDiscovered)
		r.metrics.DiscoveredMS = r.sinceStartMS()
		r.logger.Info().Str("ip", endpoint.IP).Int("port", endpoint.Port).Msg("device discovered via mDNS")
		r.phaseEnd(phaseDiscovery, start, true)
		return endpoint, nil
	}

	if r.profile.HasEndpoint() {
		endpoint := r.profile.Endpoint()
		r.setState(StateDiscovered)
		r.metrics.DiscoveredMS = r.sinceStartMS()
		r.logger.Info().Str("ip", endpoint.IP).Int("port", endpoint.Port).
			Msg("mDNS silent, using cached profile endpoint")
		r.phaseEnd(phaseDiscovery, start, true)
		return endpoint, nil
	}

	r.setState(StateDeepSleepSuspected)
	r.metrics.DiscoveredMS = r.sinceStartMS()
	r.metrics.addError("device not found via mDNS and no cached endpoint", phaseDiscovery)
	r.phaseEnd(phaseDiscovery, start, false)
	return zeroconf.Endpoint{}, &phaseFailure{reason: ReasonNoMDNS, phase: phaseDiscovery}
}

// activate is phase 6: probe the device with getInfo, then log the alarm
// user in over addUser. Neither failing is fatal; the device may surface in
// the cloud regardless.
func (r *run) activate(endpoint zeroconf.Endpoint) error {
	// 6a: getInfo.
	start := r.phaseStart(phaseGetInfo)
	info, err := r.o.device.GetInfo(r.ctx, endpoint)
	localOK := err == nil
	if localOK {
		r.setState(StateLocalAwake)
		r.logger.Debug().Str("device_name", info.FriendlyName()).Msg("device awake on local interface")
	} else {
		if r.cancelled() {
			return err
		}
		r.logger.Warn().Err(err).Msg("getInfo failed, attempting addUser anyway")
		r.metrics.addError("getinfo: "+err.Error(), phaseGetInfo)
	}
	r.metrics.GetInfoMS = r.sinceStartMS()
	r.phaseEnd(phaseGetInfo, start, localOK)

	// 6b: addUser with a bearer token, falling back to the encrypted blob.
	start = r.phaseStart(phaseAddUser)
	authOK := false
	token, err := r.o.tokens.Current(r.ctx)
	if err != nil {
		if r.cancelled() || misconfigured(err) {
			return err
		}
		r.logger.Warn().Err(err).Msg("no access token for addUser")
		r.metrics.addError("adduser token: "+err.Error(), phaseAddUser)
	} else {
		authOK = r.addUser(endpoint, token)
	}
	if r.cancelled() {
		return r.ctx.Err()
	}
	r.metrics.AddUserMS = r.sinceStartMS()
	r.phaseEnd(phaseAddUser, start, authOK)

	if authOK {
		r.setState(StateLoggedIn)
		// Devices take a moment to register with the cloud after login.
		if err := r.sleep(activationGrace); err != nil {
			return err
		}
	} else {
		r.logger.Warn().Msg("addUser failed in both modes, continuing - device may still appear")
	}
	return nil
}

// addUser tries the access_token mode first, then the blob_clientKey mode.
func (r *run) addUser(endpoint zeroconf.Endpoint, token string) bool {
	creds := zeroconf.TokenCredentials{UserName: r.o.cfg.Username, AccessToken: token}
	err := r.o.device.AddUserWithToken(r.ctx, endpoint, creds)
	if err == nil {
		r.logger.Info().Str("mode", "access_token").Msg("addUser accepted")
		return true
	}
	if r.cancelled() {
		return false
	}
	r.logger.Debug().Err(err).Msg("access_token mode failed, trying blob_clientKey")
	r.metrics.addError("adduser access_token: "+err.Error(), phaseAddUser)

	blobB64, clientKey, err := blob.EncryptedBlob(r.o.cfg.Username, "", token)
	if err != nil {
		r.logger.Warn().Err(err).Msg("credential blob generation failed")
		r.metrics.addError("adduser blob: "+err.Error(), phaseAddUser)
		return false
	}
	err = r.o.device.AddUserWithBlob(r.ctx, endpoint, zeroconf.BlobCredentials{
		UserName:  r.o.cfg.Username,
		Blob:      blobB64,
		ClientKey: clientKey,
	})
	if err != nil {
		if !r.cancelled() {
			r.logger.Debug().Err(err).Msg("blob_clientKey mode failed as well")
			r.metrics.addError("adduser blob_clientKey: "+err.Error(), phaseAddUser)
		}
		return false
	}
	r.logger.Info().Str("mode", "blob_clientKey").Msg("addUser accepted")
	return true
}

// cloudPoll is phase 7: poll the cloud device list until the target shows up
// or the deadline passes. Polling is fast for the first few seconds, then
// relaxes.
func (r *run) cloudPoll() (*cloud.CloudDevice, error) {
	start := r.phaseStart(phaseCloudPoll)
	deadline := r.o.clock.Now().Add(r.pollDeadline())
	fastUntil := r.o.clock.Now().Add(r.o.cfg.PollFastPeriod)

	first := true
	loggedErr := false
	for r.o.clock.Now().Before(deadline) {
		devices, err := r.o.cloud.Devices(r.ctx)
		if err != nil {
			if r.cancelled() || misconfigured(err) {
				return nil, err
			}
			if !loggedErr {
				r.metrics.addError("cloud poll: "+err.Error(), phaseCloudPoll)
				loggedErr = true
			}
			r.logger.Warn().Err(err).Msg("cloud poll failed, retrying")
			if err := r.sleep(slowPollInterval); err != nil {
				return nil, err
			}
			continue
		}

		if first {
			names := make([]string, 0, len(devices))
			for _, d := range devices {
				names = append(names, d.Name)
			}
			r.logger.Info().
				Strs("cloud_devices", names).
				Strs("matching_names", r.matchingNames()).
				Msg("polling for cloud visibility")
			first = false
		}

		if device := pickDevice(devices, r.matchingNames()); device != nil {
			r.logger.Info().Str("cloud_name", device.Name).Str("device_id", device.ID).
				Msg("device is cloud-visible")
			r.learn(device.Name)
			r.setState(StateCloudVisible)
			r.metrics.CloudVisibleMS = r.sinceStartMS()
			r.phaseEnd(phaseCloudPoll, start, true)
			return device, nil
		}

		interval := slowPollInterval
		if r.o.clock.Now().Before(fastUntil) {
			interval = fastPollInterval
		}
		if err := r.sleep(interval); err != nil {
			return nil, err
		}
	}

	r.metrics.CloudVisibleMS = r.sinceStartMS()
	r.metrics.addError("device never appeared in cloud device list", phaseCloudPoll)
	r.phaseEnd(phaseCloudPoll, start, false)
	return nil, &phaseFailure{reason: ReasonNotInDevices, phase: phaseCloudPoll}
}

// finish runs phases 8-11 once the device is cloud-visible: debounce, stage,
// play, confirm.
func (r *run) finish(device cloud.CloudDevice, branch string) error {
	// Phase 8: debounce. Fresh cloud entries briefly reject transfers.
	if err := r.sleep(r.o.cfg.DebounceAfterSeen); err != nil {
		return err
	}

	// Phase 9: stage.
	if err := r.stage(device.ID); err != nil {
		return err
	}

	// Phase 10: play.
	if err := r.play(device.ID); err != nil {
		return err
	}

	// Phase 11: confirm.
	if err := r.confirm(device.ID); err != nil {
		return err
	}

	r.setState(StatePlaying)
	r.metrics.Branch = branch
	r.o.breaker.RecordSuccess(r.target)
	r.logger.Info().Str("branch", branch).Msg("alarm playback confirmed")
	return nil
}

// stage is phase 9: transfer playback ownership without starting audio and
// preset the volume. Volume rejection is non-fatal; some devices have no
// volume control.
func (r *run) stage(deviceID string) error {
	start := r.phaseStart(phaseStage)

	if err := r.o.cloud.Transfer(r.ctx, deviceID, false); err != nil {
		r.metrics.addError("transfer: "+err.Error(), phaseStage)
		r.phaseEnd(phaseStage, start, false)
		return fmt.Errorf("transfer playback: %w", err)
	}

	if err := r.o.cloud.Volume(r.ctx, deviceID, r.volumePreset()); err != nil {
		if r.cancelled() {
			return err
		}
		r.logger.Warn().Err(err).Int("volume", r.volumePreset()).Msg("volume preset not applied")
		r.metrics.addError("volume: "+err.Error(), phaseStage)
	}

	if err := r.sleep(stageSettle); err != nil {
		return err
	}

	r.setState(StateStaged)
	r.phaseEnd(phaseStage, start, true)
	return nil
}

// play is phase 10: fire the context on the staged device.
func (r *run) play(deviceID string) error {
	start := r.phaseStart(phasePlay)

	if err := r.o.cloud.Play(r.ctx, deviceID, r.contextURI, r.shuffle); err != nil {
		r.metrics.addError("play: "+err.Error(), phasePlay)
		r.phaseEnd(phasePlay, start, false)
		return fmt.Errorf("start playback: %w", err)
	}

	r.metrics.PlayMS = r.sinceStartMS()
	r.phaseEnd(phasePlay, start, true)
	return nil
}

// confirm is phase 11: require the cloud to report the target device
// actively playing within the confirmation window.
func (r *run) confirm(deviceID string) error {
	start := r.phaseStart(phaseConfirm)
	deadline := r.o.clock.Now().Add(r.o.cfg.ConfirmWindow)

	loggedErr := false
	for r.o.clock.Now().Before(deadline) {
		playback, err := r.o.cloud.CurrentPlayback(r.ctx)
		if err != nil {
			if r.cancelled() {
				return err
			}
			if !loggedErr {
				r.metrics.addError("confirm: "+err.Error(), phaseConfirm)
				loggedErr = true
			}
			r.logger.Warn().Err(err).Msg("confirmation check failed")
		} else if playback != nil && playback.DeviceID == deviceID && playback.Playing {
			r.phaseEnd(phaseConfirm, start, true)
			return nil
		}

		if err := r.sleep(confirmPollInterval); err != nil {
			return err
		}
	}

	r.metrics.addError("playback not confirmed within window", phaseConfirm)
	r.phaseEnd(phaseConfirm, start, false)
	return &phaseFailure{reason: ReasonPlayNotConfirmed, phase: phaseConfirm}
}

// failover walks the fallback ladder: wake the last known endpoint and retry
// the cloud half of the timeline, then hand the profile to the alternate
// transport. Exhaustion is the terminal run error.
func (r *run) failover(reason string) (*PhaseMetrics, error) {
	r.ensureProfile()
	r.logger.Warn().Str("reason", reason).Msg("primary path failed, entering fallback")
	r.publish(phaseFallback, "primary failed: "+reason)
	start := r.phaseStart(phaseFallback)

	// Step 1: direct wake on cached coordinates, then poll/stage/play again.
	if r.profile.HasEndpoint() {
		endpoint := r.profile.Endpoint()
		if _, err := r.o.device.GetInfo(r.ctx, endpoint); err != nil {
			r.logger.Debug().Err(err).Str("ip", endpoint.IP).Msg("fallback wake did not reach device")
		}
		if r.cancelled() {
			return r.cancel()
		}

		err := r.chase(BranchFallback)
		if err == nil {
			r.metrics.addError("primary failed: "+reason, phaseFallback)
			r.phaseEnd(phaseFallback, start, true)
			r.logger.Info().Msg("fallback wake-and-retry succeeded")
			return r.metrics, nil
		}
		if r.cancelled() {
			return r.cancel()
		}
		if misconfigured(err) {
			r.metrics.Branch = FailedBranch(ReasonMisconfigured)
			return r.metrics, err
		}
		r.logger.Warn().Err(err).Msg("fallback wake-and-retry failed")
	} else {
		r.logger.Warn().Msg("no cached endpoint, skipping fallback wake")
	}

	// Step 2: alternate transport, when configured.
	if r.o.fallback != nil {
		err := r.o.fallback.Play(r.ctx, r.profile, r.contextURI)
		if err == nil {
			r.metrics.Branch = BranchFallback
			r.metrics.addError("primary failed: "+reason, phaseFallback)
			r.phaseEnd(phaseFallback, start, true)
			r.logger.Info().Msg("fallback transport playing")
			return r.metrics, nil
		}
		if r.cancelled() {
			return r.cancel()
		}
		r.logger.Error().Err(err).Msg("fallback transport failed")
		r.metrics.addError("fallback transport: "+err.Error(), phaseFallback)
	}

	r.metrics.Branch = FailedBranch(reason)
	r.metrics.addError("fallback failed: "+reason, phaseFallback)
	r.phaseEnd(phaseFallback, start, false)
	r.logger.Error().Str("reason", reason).Msg("alarm failed, fallback exhausted")
	return r.metrics, apperrors.NewFallbackExhausted(
		fmt.Sprintf("alarm playback for %q failed and no fallback succeeded: %s", r.target, reason), nil)
}

// cancel finalizes a run whose context was cancelled. The profile is never
// mutated on this path.
func (r *run) cancel() (*PhaseMetrics, error) {
	r.metrics.Branch = FailedBranch(ReasonCancelled)
	cause := r.ctx.Err()
	if cause == nil {
		cause = context.Canceled
	}
	r.metrics.addError("run cancelled: "+cause.Error(), string(r.state))
	r.logger.Warn().Str("state", string(r.state)).Msg("alarm run cancelled")
	return r.metrics, fmt.Errorf("alarm run for %q cancelled: %w", r.target, cause)
}

// finalize stamps the total duration and emits the terminal event and
// metrics, whatever the outcome.
func (r *run) finalize() {
	r.metrics.TotalDurationMS = r.sinceStartMS()
	r.metrics.FinalState = string(r.state)
	metrics.RecordRun(r.metrics.Branch)
	r.publish(phaseComplete, "")
	r.logger.Info().
		Str("branch", r.metrics.Branch).
		Int64("total_duration_ms", r.metrics.TotalDurationMS).
		Int("errors", len(r.metrics.Errors)).
		Msg("alarm run finished")
}

// learn persists a cloud name the device presented. Cancelled runs skip the
// write so aborts never mutate profiles.
func (r *run) learn(cloudName string) {
	if r.cancelled() {
		return
	}
	if err := r.o.registry.UpdateLearned(r.target, cloudName); err != nil {
		r.logger.Warn().Err(err).Str("cloud_name", cloudName).Msg("could not persist learned name")
		return
	}
	if r.profile != nil && !r.profile.KnowsCloudName(cloudName) {
		r.profile.SpotifyDeviceNames = append(r.profile.SpotifyDeviceNames, cloudName)
	}
}

func (r *run) matchingNames() []string {
	if r.profile != nil {
		return r.profile.AllMatchingNames()
	}
	return []string{r.target}
}

func (r *run) volumePreset() int {
	if r.profile != nil {
		return r.profile.VolumePreset
	}
	return registry.DefaultVolumePreset
}

// pollDeadline honors the per-device wake-wait override.
func (r *run) pollDeadline() time.Duration {
	if r.profile != nil && r.profile.MaxWakeWaitSec != nil && *r.profile.MaxWakeWaitSec > 0 {
		return time.Duration(*r.profile.MaxWakeWaitSec) * time.Second
	}
	return r.o.cfg.PollDeadline
}

// cancelled reports whether the run's context is done. Child-deadline
// expiries inside individual calls do not count.
func (r *run) cancelled() bool {
	return r.ctx.Err() != nil
}

// sleep waits on the injected clock, aborting early when the run is
// cancelled.
func (r *run) sleep(d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-r.ctx.Done():
		return r.ctx.Err()
	case <-r.o.clock.After(d):
		return nil
	}
}

func (r *run) setState(state State) {
	if r.state == state {
		return
	}
	r.logger.Debug().Str("from", string(r.state)).Str("to", string(state)).Msg("state change")
	r.state = state
}

func (r *run) sinceStartMS() int64 {
	return r.o.clock.Since(r.start).Milliseconds()
}

func (r *run) phaseStart(phase string) time.Time {
	r.logger.Debug().Str("phase", phase).Msg("phase start")
	return r.o.clock.Now()
}

func (r *run) phaseEnd(phase string, start time.Time, ok bool) {
	elapsed := r.o.clock.Since(start)
	metrics.ObservePhase(phase, elapsed.Seconds())
	r.logger.Debug().Str("phase", phase).Dur("elapsed", elapsed).Bool("ok", ok).Msg("phase end")
	r.publish(phase, "")
}

func (r *run) publish(phase, message string) {
	r.o.events.Publish(events.RunEvent{
		RunID:   r.runID,
		AlarmID: r.alarmID,
		Target:  r.target,
		Phase:   phase,
		State:   string(r.state),
		Branch:  r.metrics.Branch,
		Message: message,
		TS:      r.o.clock.Now().UTC(),
	})
}
