package server

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/muster/internal/models"
)

// errInfoType is reported when an acceptor notification carries an info
// payload this server did not create.
var errInfoType = errors.New("unexpected match info payload type")

// onAcceptProgress publishes an acceptance progress event to every member of
// the match. Acceptor state is already committed when this runs; a delivery
// failure surfaces through the acceptor's error handler, never to the client
// that triggered the acceptance.
func (s *Server) onAcceptProgress(info any, total, accepted int) error {
	mi, ok := info.(*models.MatchInfo)
	if !ok {
		return errInfoType
	}

	clients, ok := s.proposed.Load(mi.ID)
	if !ok {
		return nil
	}

	data := models.MatchProgress{ID: mi.ID, Total: total, Accepted: accepted}

	var errs []error
	for _, c := range clients.([]string) {
		if err := s.hub.Publish(c, topicMatchProgress, data); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// onAccepted notifies every client that the match is starting and queues the
// history record.
func (s *Server) onAccepted(info any, clients []string) error {
	mi, ok := info.(*models.MatchInfo)
	if !ok {
		return errInfoType
	}
	s.proposed.Delete(mi.ID)

	data := models.MatchResolved{
		ID:          mi.ID,
		Outcome:     models.OutcomeAccepted,
		Disposition: models.DispositionPlay,
		Info:        mi.Payload,
		Clients:     clients,
	}

	rec := models.MatchRecord{
		ID:          mi.ID,
		Outcome:     models.OutcomeAccepted,
		Info:        string(mi.Payload),
		CreatedAt:   mi.CreatedAt,
		FinalizedAt: time.Now(),
	}

	var errs []error
	for _, c := range clients {
		rec.Clients = append(rec.Clients, models.MatchClient{
			Name:        c,
			Disposition: models.DispositionPlay,
			CountryCode: s.hub.country(c),
		})
		if err := s.hub.Publish(c, topicMatchResolved, data); err != nil {
			errs = append(errs, err)
		}
	}

	s.enqueueRecord(rec)

	return errors.Join(errs...)
}

// onDeclined notifies each client of its own disposition and queues the
// history record.
func (s *Server) onDeclined(info any, requeue, kick []string) error {
	mi, ok := info.(*models.MatchInfo)
	if !ok {
		return errInfoType
	}
	s.proposed.Delete(mi.ID)

	rec := models.MatchRecord{
		ID:          mi.ID,
		Outcome:     models.OutcomeDeclined,
		Info:        string(mi.Payload),
		CreatedAt:   mi.CreatedAt,
		FinalizedAt: time.Now(),
	}

	var errs []error
	notify := func(clients []string, disposition string) {
		for _, c := range clients {
			rec.Clients = append(rec.Clients, models.MatchClient{
				Name:        c,
				Disposition: disposition,
				CountryCode: s.hub.country(c),
			})

			data := models.MatchResolved{
				ID:          mi.ID,
				Outcome:     models.OutcomeDeclined,
				Disposition: disposition,
				Info:        mi.Payload,
			}
			if err := s.hub.Publish(c, topicMatchResolved, data); err != nil {
				errs = append(errs, err)
			}
		}
	}

	notify(requeue, models.DispositionRequeue)
	notify(kick, models.DispositionKick)

	s.enqueueRecord(rec)

	return errors.Join(errs...)
}

// onNotifyError receives failures from the notification handlers above.
// Acceptor and registry state are already consistent; all that is left is
// operator visibility.
func (s *Server) onNotifyError(err error, clients []string) {
	log.Error().
		Err(err).
		Strs("clients", clients).
		Msg("Match notification failed")
}

// enqueueRecord hands a finalized match to the background writers without
// blocking the signal path. A full queue drops the record.
func (s *Server) enqueueRecord(rec models.MatchRecord) {
	select {
	case s.queue <- rec:
	default:
		log.Warn().Str("match", rec.ID).Msg("Record queue full, match history dropped")
	}
}
