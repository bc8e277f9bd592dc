package logpub

import (
	"github.com/cuemby/clustercore/pkg/transport"
)

// Publisher is the leader-side appender: every record it offers is stamped
// with the current leadership term and a timestamp, then handed to the
// underlying transport publication. Offer's back-pressure sentinel
// propagates unchanged so the caller retries on a later tick instead of
// reordering records.
type Publisher struct {
	pub              transport.Publication
	leadershipTermID int64
}

// NewPublisher wraps pub for leadershipTermID.
func NewPublisher(pub transport.Publication, leadershipTermID int64) *Publisher {
	return &Publisher{pub: pub, leadershipTermID: leadershipTermID}
}

// SetLeadershipTermID updates the term every subsequent Append stamps
// records with, used once per new term rather than per record.
func (p *Publisher) SetLeadershipTermID(id int64) {
	p.leadershipTermID = id
}

// Position returns the publication's current logical position.
func (p *Publisher) Position() int64 {
	return p.pub.Position()
}

// Append stamps r with the publisher's term and timestampMS, encodes it,
// and offers it to the transport. It returns the resulting log_position,
// or transport.ErrBackPressured if the caller must retry later.
func (p *Publisher) Append(r Record, timestampMS int64) (int64, error) {
	r.LeadershipTermID = p.leadershipTermID
	r.TimestampMS = timestampMS

	data, err := Encode(r)
	if err != nil {
		return 0, err
	}
	return p.pub.Offer(data)
}
