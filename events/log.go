package events

import (
	"github.com/sirupsen/logrus"

	"github.com/outofforest/blockpool/blocks"
)

// LogObserver logs every notification at debug level.
type LogObserver struct {
	log logrus.FieldLogger
}

// NewLogObserver returns new log observer. If log is nil the standard logrus
// logger is used.
func NewLogObserver(log logrus.FieldLogger) *LogObserver {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogObserver{
		log: log,
	}
}

// BlockAllocated implements Observer.
func (o *LogObserver) BlockAllocated(id blocks.ID, tier blocks.Tier) {
	o.log.WithFields(logrus.Fields{"block": id, "tier": tier}).Debug("block allocated")
}

// BlockRegistered implements Observer.
func (o *LogObserver) BlockRegistered(id blocks.ID, fp blocks.Fingerprint) {
	o.log.WithFields(logrus.Fields{"block": id, "fingerprint": fp}).Debug("block registered")
}

// BlockMatched implements Observer.
func (o *LogObserver) BlockMatched(id blocks.ID, fp blocks.Fingerprint) {
	o.log.WithFields(logrus.Fields{"block": id, "fingerprint": fp}).Debug("block matched")
}

// BlockEvicted implements Observer.
func (o *LogObserver) BlockEvicted(id blocks.ID, fp blocks.Fingerprint) {
	o.log.WithFields(logrus.Fields{"block": id, "fingerprint": fp}).Debug("block evicted")
}
