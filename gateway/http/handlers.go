package http

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/c360/acqstream/control"
	"github.com/c360/acqstream/errors"
	"github.com/c360/acqstream/session"
)

// SystemName labels the aggregated health report.
const SystemName = "acqstream"

// ChannelView is the JSON form of one registered channel.
type ChannelView struct {
	session.ChannelInfo
	Stats *session.ChannelStats `json:"stats,omitempty"`
}

type channelList struct {
	Session   string        `json:"session"`
	BatchSize int           `json:"batch_size"`
	Channels  []ChannelView `json:"channels"`
}

type acquisitionState struct {
	Running *bool `json:"running"`
}

type batchSize struct {
	BatchSize int `json:"batch_size"`
}

type serverView struct {
	Address      string                         `json:"address"`
	UnitType     int                            `json:"unit_type"`
	SamplingRate float64                        `json:"sampling_rate"`
	Enabled      map[control.ChannelClass][]int `json:"enabled_channels"`
}

func channelKey(r *http.Request) (control.ChannelKey, error) {
	vars := mux.Vars(r)
	key, err := control.ParseChannelKey(vars["class"] + ":" + vars["index"])
	if err != nil {
		return control.ChannelKey{}, errors.WrapInvalid(err, "Gateway", "channelKey", "parse channel")
	}
	return key, nil
}

func (g *Gateway) view(info session.ChannelInfo) ChannelView {
	v := ChannelView{ChannelInfo: info}
	if stats, ok := g.session.Stats(info.Key); ok {
		v.Stats = &stats
	}
	return v
}

func (g *Gateway) find(key control.ChannelKey) (session.ChannelInfo, bool) {
	for _, info := range g.session.Channels() {
		if info.Key == key {
			return info, true
		}
	}
	return session.ChannelInfo{}, false
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	g.monitor.Refresh()
	status := g.monitor.AggregateHealth(SystemName)

	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (g *Gateway) handleListChannels(w http.ResponseWriter, _ *http.Request) {
	infos := g.session.Channels()
	list := channelList{
		Session:   g.session.ID(),
		BatchSize: g.session.BatchSize(),
		Channels:  make([]ChannelView, 0, len(infos)),
	}
	for _, info := range infos {
		list.Channels = append(list.Channels, g.view(info))
	}
	writeJSON(w, http.StatusOK, list)
}

func (g *Gateway) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	key, err := channelKey(r)
	if err != nil {
		g.fail(w, r, err)
		return
	}
	info, ok := g.find(key)
	if !ok {
		writeError(w, http.StatusNotFound, "channel "+key.String()+" is not registered")
		return
	}
	writeJSON(w, http.StatusOK, g.view(info))
}

func (g *Gateway) handleActivate(w http.ResponseWriter, r *http.Request) {
	key, err := channelKey(r)
	if err != nil {
		g.fail(w, r, err)
		return
	}

	ctx, cancel := g.requestContext(r)
	defer cancel()
	if err := g.session.Activate(ctx, key); err != nil {
		g.fail(w, r, err)
		return
	}

	g.logger.Info("channel activated", "channel", key.String(), "request_id", requestID(r.Context()))
	info, ok := g.find(key)
	if !ok {
		// deactivated concurrently
		writeError(w, http.StatusConflict, "channel "+key.String()+" was removed")
		return
	}
	writeJSON(w, http.StatusOK, g.view(info))
}

func (g *Gateway) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	key, err := channelKey(r)
	if err != nil {
		g.fail(w, r, err)
		return
	}
	if !g.session.Deactivate(key) {
		writeError(w, http.StatusNotFound, "channel "+key.String()+" is not registered")
		return
	}
	g.logger.Info("channel deactivated", "channel", key.String(), "request_id", requestID(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleLatest(w http.ResponseWriter, r *http.Request) {
	key, err := channelKey(r)
	if err != nil {
		g.fail(w, r, err)
		return
	}

	ctx, cancel := g.requestContext(r)
	defer cancel()
	value, err := g.server.GetMostRecentSample(ctx, key)
	if err != nil {
		g.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channel": key, "value": value})
}

func (g *Gateway) handleGetAcquisition(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := g.requestContext(r)
	defer cancel()

	running, err := g.session.IsAcquiring(ctx)
	if err != nil {
		g.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acquisitionState{Running: &running})
}

func (g *Gateway) handleSetAcquisition(w http.ResponseWriter, r *http.Request) {
	var req acquisitionState
	if err := g.decodeBody(r, &req); err != nil {
		g.fail(w, r, err)
		return
	}
	if req.Running == nil {
		g.fail(w, r, errors.WrapInvalid(errors.ErrInvalidData, "Gateway", "handleSetAcquisition",
			"field running is required"))
		return
	}

	ctx, cancel := g.requestContext(r)
	defer cancel()
	if err := g.session.SetAcquiring(ctx, *req.Running); err != nil {
		g.fail(w, r, err)
		return
	}
	g.logger.Info("acquisition changed", "running", *req.Running, "request_id", requestID(r.Context()))
	writeJSON(w, http.StatusOK, req)
}

func (g *Gateway) handleGetBatchSize(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, batchSize{BatchSize: g.session.BatchSize()})
}

// handleSetBatchSize applies the session's clamping and returns the
// effective size.
func (g *Gateway) handleSetBatchSize(w http.ResponseWriter, r *http.Request) {
	var req batchSize
	if err := g.decodeBody(r, &req); err != nil {
		g.fail(w, r, err)
		return
	}
	g.session.SetBatchSize(req.BatchSize)
	writeJSON(w, http.StatusOK, batchSize{BatchSize: g.session.BatchSize()})
}

func (g *Gateway) handleServer(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := g.requestContext(r)
	defer cancel()

	unit, err := g.server.GetUnitType(ctx)
	if err != nil {
		g.fail(w, r, err)
		return
	}
	rate, err := g.server.GetSamplingRate(ctx)
	if err != nil {
		g.fail(w, r, err)
		return
	}

	view := serverView{
		Address:      g.server.Address().String(),
		UnitType:     unit,
		SamplingRate: rate,
		Enabled:      make(map[control.ChannelClass][]int, len(control.Classes)),
	}
	for _, class := range control.Classes {
		indexes, err := g.server.GetEnabledChannels(ctx, class)
		if err != nil {
			g.fail(w, r, err)
			return
		}
		if indexes == nil {
			indexes = []int{}
		}
		view.Enabled[class] = indexes
	}
	writeJSON(w, http.StatusOK, view)
}
